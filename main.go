package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/dmorgan81/novacanvas/internal/config"
	"github.com/dmorgan81/novacanvas/internal/handler"
	"github.com/dmorgan81/novacanvas/internal/inject"
	"github.com/dmorgan81/novacanvas/internal/log"
	"github.com/samber/do"
)

func main() {
	cfg, err := config.Load(os.Getenv("CANVAS_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := log.NewContext(context.Background(), log.New(os.Stderr, cfg.LogLevel))
	injector := inject.Setup(ctx, cfg)
	handler := do.MustInvoke[*handler.Handler](injector)
	lambda.StartWithOptions(handler.Handle, lambda.WithContext(ctx), lambda.WithEnableSIGTERM(func() {
		_ = injector.Shutdown()
	}))
}
