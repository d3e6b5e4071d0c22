// Command cluppo is the terminal client: it edits a document file and asks
// the gateway for suggestions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/clientcfg"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/document"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/gateway"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/kv"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/logger"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/persona"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/selection"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/suggest"
)

func main() {
	configPath := flag.String("config", "cluppo.toml", "client config file (.toml, .yaml or .json)")
	docPath := flag.String("doc", "", "document to open, overrides document_path")
	flag.Parse()

	if err := run(*configPath, *docPath); err != nil {
		failure.Fprintf(os.Stderr, "cluppo: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, docPath string) error {
	cfg, err := clientcfg.Load(configPath)
	if err != nil {
		return err
	}
	if docPath != "" {
		cfg.DocumentPath = docPath
	}

	var log logger.Logger = logger.Nop()
	if cfg.LogFile != "" {
		log = logger.NewFileOnly(cfg.LogFile)
	}
	defer log.Sync()

	var store kv.Store
	if cfg.StatePath != "" {
		sqlite, err := kv.OpenSQLite(cfg.StatePath)
		if err != nil {
			return err
		}
		defer sqlite.Close()
		store = sqlite
	} else {
		store = kv.NewMemory()
	}

	doc, err := document.OpenFile(cfg.DocumentPath, document.Format(cfg.Format))
	if err != nil {
		return err
	}
	doc.OnError = func(err error) {
		log.Warn("document", "watch failed", map[string]interface{}{"error": err.Error()})
	}
	if err := doc.Watch(); err != nil {
		log.Warn("document", "file watching disabled", map[string]interface{}{"error": err.Error()})
	}
	defer doc.Close()

	p := persona.New(store, persona.WithDocument(doc.Name()), persona.WithLogger(log))
	applyDials(p, cfg)
	if cfg.PersistMemory {
		p.TogglePersistMemory(true)
	}

	rng := selection.NewRand(cfg.Seed)
	tracker := selection.NewTracker(doc, rng)
	client := gateway.NewClient(cfg.GatewayURL, cfg.RequestTimeout())
	view := termView{out: os.Stdout}
	engine := suggest.NewEngine(doc, tracker, p, client,
		suggest.WithView(view),
		suggest.WithLogger(log),
		suggest.WithRand(rng),
		suggest.WithContextRadius(cfg.ContextRadius),
		suggest.WithTimeout(cfg.RequestTimeout()),
	)
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	accent.Fprintf(os.Stdout, "Cluppo is watching %s. Type help.\n", doc.Path())
	r := &repl{
		doc:     doc,
		tracker: tracker,
		engine:  engine,
		persona: p,
		server:  client,
		out:     os.Stdout,
	}
	if err := r.run(ctx, os.Stdin); err != nil {
		return fmt.Errorf("read commands: %w", err)
	}
	return nil
}

// applyDials overrides the persisted persona dials with the ones the config
// sets explicitly.
func applyDials(p *persona.Manager, cfg clientcfg.Config) {
	if cfg.Hostility <= 0 && cfg.Sabotage <= 0 {
		return
	}
	o := p.Overrides()
	if cfg.Hostility > 0 {
		o.Hostility = cfg.Hostility
	}
	if cfg.Sabotage > 0 {
		o.Sabotage = cfg.Sabotage
	}
	p.SetOverrides(o.Hostility, o.Sabotage)
}
