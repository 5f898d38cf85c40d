// Command privacywrap masks named entities in text before it is sent to an AI
// service and restores them in the reply.
//
// It runs either as a local web page (serve) or as a filter on files and
// stdin (detect, mask, unmask). Detection runs in process; no text leaves the
// machine.
//
// Usage:
//
//	# Web page and JSON API on http://127.0.0.1:8501
//	./privacywrap serve
//
//	# Mask a file, keep the mapping, restore the reply later
//	./privacywrap mask notes.txt --mapping-out mapping.json > masked.txt
//	./privacywrap unmask --mapping mapping.json reply.txt
//
//	# Settings come from privacy-wrapper.yaml and PW_* variables
//	PW_ALIAS_STYLE=letter PW_PORT=9000 ./privacywrap serve
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"entity-privacy-wrapper/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func printBanner(w io.Writer, cfg *config.Config) {
	detectors := ""
	if cfg.UseNER {
		detectors += "ner "
	}
	if cfg.UseRegex {
		detectors += "regex "
	}
	if cfg.GazetteerFile != "" {
		detectors += "gazetteer(" + cfg.GazetteerFile + ")"
	}
	if detectors == "" {
		detectors = "(none: every text is passed through unchanged)"
	}

	fmt.Fprintf(w, `
╔══════════════════════════════════════════════════════╗
║          Entity Privacy Wrapper  (Go)                ║
╚══════════════════════════════════════════════════════╝
  Listen address  : %s
  Alias style     : %s
  Detectors       : %s
  Session TTL     : %s (max %d sessions)
  HTTP/2 cleartext: %v

  Open the page:
    http://%s/

  Check status:
    curl http://%s/status
`, cfg.Addr(), cfg.Style(), detectors,
		cfg.SessionTTL, cfg.MaxSessions, cfg.EnableH2C,
		cfg.Addr(), cfg.Addr())
}
