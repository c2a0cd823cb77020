package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
	"time"

	"brandpost-backend/internal/shared/errs"
	"brandpost-backend/internal/shared/metrics"
	"brandpost-backend/internal/shared/telemetry"
)

// Gateway validates payloads, invokes the capability once and classifies failures.
// It never retries; callers own retry policy.
type Gateway struct {
	capability Capability
	timeout    time.Duration
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithTimeout bounds each capability call. Exceeding it reports GenerationUnavailable.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = d }
}

// NewGateway wraps a capability.
func NewGateway(capability Capability, opts ...GatewayOption) *Gateway {
	g := &Gateway{capability: capability}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs one task against the capability.
func (g *Gateway) Generate(ctx context.Context, kind TaskKind, payload Payload) (Result, error) {
	if err := Validate(kind, payload); err != nil {
		return Result{}, err
	}
	if g == nil || g.capability == nil {
		return Result{}, stageErr(kind, errs.ErrGenerationUnavailable, ErrNotConfigured.Error())
	}
	if err := ctx.Err(); err != nil {
		return Result{}, stageErr(kind, errs.ErrGenerationUnavailable, err.Error())
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := g.capability.Invoke(callCtx, kind, payload)
	metrics.ObserveGenerationMs(string(kind), metrics.SinceMs(start))
	if err != nil {
		classified := classify(callCtx, kind, err)
		telemetry.Warn("llm.generate.failed", map[string]any{
			"task_kind":   string(kind),
			"recoverable": errs.Recoverable(classified),
			"error":       err,
		})
		return Result{}, classified
	}

	res, err = normalize(res)
	if err != nil {
		return Result{}, stageErr(kind, errs.ErrGenerationRejected, err.Error())
	}
	return res, nil
}

// Validate checks that payload carries every field required by kind.
func Validate(kind TaskKind, payload Payload) error {
	fields, ok := requiredFields[kind]
	if !ok {
		return stageErr(kind, errs.ErrInvalidRequest, fmt.Sprintf("unknown task kind %q", kind))
	}
	var missing []string
	for _, key := range fields {
		if isEmpty(payload[key]) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return stageErr(kind, errs.ErrInvalidRequest, "missing "+strings.Join(missing, ", "))
	}
	return nil
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func classify(ctx context.Context, kind TaskKind, err error) error {
	var capErr *CapabilityError
	if errors.As(err, &capErr) {
		switch capErr.Kind {
		case FailureRejected, FailureMalformed:
			return stageErr(kind, errs.ErrGenerationRejected, capErr.Message)
		default:
			return stageErr(kind, errs.ErrGenerationUnavailable, capErr.Message)
		}
	}
	if ctx.Err() != nil || transient(err) {
		return stageErr(kind, errs.ErrGenerationUnavailable, err.Error())
	}
	return stageErr(kind, errs.ErrGenerationRejected, err.Error())
}

// transient reports errors worth a caller retry when the capability did not classify them.
func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"http status 5", "server_error", "rate limit", "timeout",
		"connection reset", "connection refused", "connection closed",
		"broken pipe", "eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func normalize(res Result) (Result, error) {
	res.Text = strings.TrimSpace(res.Text)
	if len(res.Fields) == 0 && res.Text != "" {
		if fields, ok := decodeObject(res.Text); ok {
			res.Fields = fields
		}
	}
	if res.Text == "" && len(res.Fields) == 0 {
		return Result{}, errors.New("empty response")
	}
	return res, nil
}

// decodeObject parses a JSON object, tolerating a fenced ```json block.
func decodeObject(text string) (map[string]any, bool) {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
		body = strings.TrimSpace(body)
	}
	if !strings.HasPrefix(body, "{") {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, false
	}
	return out, true
}

func stageErr(kind TaskKind, sentinel error, reason string) error {
	return &errs.StageError{
		Stage:    "text_generation",
		TaskKind: string(kind),
		Reason:   reason,
		Err:      sentinel,
	}
}

var _ Generator = (*Gateway)(nil)
