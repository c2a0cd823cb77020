package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http
//
// Sessions live in process memory by default; set SESSION_STORE=redis or
// postgres so warm and cold invocations share state.

import (
	"context"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"brandpost-backend/internal/bootstrap"
	"brandpost-backend/internal/shared/config"
	"brandpost-backend/internal/shared/telemetry"
)

var (
	initOnce  sync.Once
	initErr   error
	ginLambda *ginadapter.GinLambdaV2
)

func initApp() {
	cfg := config.Load()
	if cfg.SessionStore == "memory" {
		telemetry.Warn("lambda.memory_sessions", map[string]any{"env": cfg.Env})
	}
	app, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	ginLambda = ginadapter.NewV2(app.Router)
}

func handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		telemetry.Error("lambda.bootstrap_failed", map[string]any{"error": initErr.Error()})
		return errorResponse(`{"error":{"code":"internal_error","message":"bootstrap failed"}}`), initErr
	}
	if ginLambda == nil {
		return errorResponse(`{"error":{"code":"internal_error","message":"router not initialized"}}`), nil
	}
	return ginLambda.ProxyWithContext(ctx, req)
}

func errorResponse(body string) events.APIGatewayV2HTTPResponse {
	return events.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func main() {
	lambda.Start(handler)
}
