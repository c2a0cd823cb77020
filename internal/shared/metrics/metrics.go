package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	variationBatchesTotal   atomic.Uint64
	variationFailuresTotal  atomic.Uint64
	variationDuplicateTotal atomic.Uint64
	refineIterationsTotal   atomic.Uint64
	refineFailuresTotal     atomic.Uint64
	placeholderImagesTotal  atomic.Uint64
	imagesGeneratedTotal    atomic.Uint64
	exportsTotal            atomic.Uint64
	brandFallbackTotal      atomic.Uint64

	generationDuration = newLabeledHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
)

// IncVariationBatch counts a complete batch of three variations.
func IncVariationBatch() { variationBatchesTotal.Add(1) }

// IncVariationFailure counts a batch that ended short.
func IncVariationFailure() { variationFailuresTotal.Add(1) }

// AddVariationDuplicates counts near-duplicate pairs left in a batch.
func AddVariationDuplicates(n int) {
	if n > 0 {
		variationDuplicateTotal.Add(uint64(n))
	}
}

// IncRefineIteration counts an appended critique record.
func IncRefineIteration() { refineIterationsTotal.Add(1) }

// IncRefineFailure counts a failed critique or refine attempt.
func IncRefineFailure() { refineFailuresTotal.Add(1) }

// IncImage counts a generated image, split by placeholder status.
func IncImage(placeholder bool) {
	if placeholder {
		placeholderImagesTotal.Add(1)
		return
	}
	imagesGeneratedTotal.Add(1)
}

// IncExport counts a persisted export.
func IncExport() { exportsTotal.Add(1) }

// IncBrandFallback counts brand analyses answered with the default profile.
func IncBrandFallback() { brandFallbackTotal.Add(1) }

// ObserveGenerationMs records a capability call duration for the given task kind.
func ObserveGenerationMs(task string, value float64) {
	if value < 0 {
		value = 0
	}
	generationDuration.Observe(task, value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "variation_batches_total", "Total complete variation batches", variationBatchesTotal.Load())
	writeCounter(&buf, "variation_failures_total", "Total variation batches that ended short", variationFailuresTotal.Load())
	writeCounter(&buf, "variation_duplicates_total", "Total near-duplicate pairs reported", variationDuplicateTotal.Load())
	writeCounter(&buf, "refine_iterations_total", "Total critique records appended", refineIterationsTotal.Load())
	writeCounter(&buf, "refine_failures_total", "Total failed critique or refine attempts", refineFailuresTotal.Load())
	writeCounter(&buf, "images_generated_total", "Total images produced by the capability", imagesGeneratedTotal.Load())
	writeCounter(&buf, "placeholder_images_total", "Total placeholder images substituted", placeholderImagesTotal.Load())
	writeCounter(&buf, "exports_total", "Total exports persisted", exportsTotal.Load())
	writeCounter(&buf, "brand_fallback_total", "Total brand analyses answered with the default profile", brandFallbackTotal.Load())
	writeLabeledHistogram(&buf, "generation_duration_ms", "Capability call duration in milliseconds", "task", generationDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type labeledHistogram struct {
	mu      sync.Mutex
	buckets []float64
	series  map[string]*histogram
}

func newLabeledHistogram(buckets []float64) *labeledHistogram {
	return &labeledHistogram{buckets: buckets, series: make(map[string]*histogram)}
}

func (h *labeledHistogram) Observe(label string, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.series[label]
	if !ok {
		s = &histogram{buckets: h.buckets, counts: make([]uint64, len(h.buckets))}
		h.series[label] = s
	}
	s.count++
	s.sum += value
	for i, bound := range s.buckets {
		if value <= bound {
			s.counts[i]++
			break
		}
	}
}

type seriesSnapshot struct {
	label   string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func (h *labeledHistogram) Snapshot() []seriesSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]seriesSnapshot, 0, len(h.series))
	for label, s := range h.series {
		out = append(out, seriesSnapshot{
			label:   label,
			buckets: append([]float64(nil), s.buckets...),
			counts:  append([]uint64(nil), s.counts...),
			sum:     s.sum,
			count:   s.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].label < out[j].label })
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeLabeledHistogram(buf *bytes.Buffer, name, help, labelName string, series []seriesSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	for _, snap := range series {
		var cumulative uint64
		for i, bound := range snap.buckets {
			cumulative += snap.counts[i]
			fmt.Fprintf(buf, "%s_bucket{%s=%q,le=\"%s\"} %d\n", name, labelName, snap.label, formatFloat(bound), cumulative)
		}
		fmt.Fprintf(buf, "%s_bucket{%s=%q,le=\"+Inf\"} %d\n", name, labelName, snap.label, snap.count)
		fmt.Fprintf(buf, "%s_sum{%s=%q} %s\n", name, labelName, snap.label, formatFloat(snap.sum))
		fmt.Fprintf(buf, "%s_count{%s=%q} %d\n", name, labelName, snap.label, snap.count)
	}
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// SinceMs returns the milliseconds elapsed since start.
func SinceMs(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
