package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/dragonscale-intents"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/adapters"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/cache"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/calllog"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/demo"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/metrics"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/prompt"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/registry"
)

const (
	defaultGenkitModel    = "googleai/gemini-2.0-flash"
	defaultAnthropicModel = "claude-sonnet-4-5"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	provider   string
	model      string
	calllogDB  string
	redisAddr  string
	cacheFile  string
	interpret  bool
	manuals    bool
}

func optionsFrom(cmd *cobra.Command) options {
	var o options
	o.configPath, _ = cmd.Flags().GetString("config")
	o.provider, _ = cmd.Flags().GetString("provider")
	o.model, _ = cmd.Flags().GetString("model")
	o.calllogDB, _ = cmd.Flags().GetString("calllog-db")
	o.redisAddr, _ = cmd.Flags().GetString("redis-addr")
	o.cacheFile, _ = cmd.Flags().GetString("cache-file")
	o.interpret, _ = cmd.Flags().GetBool("interpret")
	o.manuals, _ = cmd.Flags().GetBool("manuals")
	return o
}

// runtime is an engine wired to the demo tools plus everything that has to
// be closed with it.
type runtime struct {
	engine    *dragonscale.Engine
	arm       *demo.RobotArm
	calls     calllog.Store
	metrics   *prometheus.Registry
	collector *metrics.Collector
	closers   []func() error
	g         *genkit.Genkit
}

func (r *runtime) Close() {
	if r.collector != nil && r.engine != nil {
		r.collector.Detach(r.engine.EventBus())
	}
	if r.engine != nil {
		r.engine.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			log.Printf("Close failed (error: %v)", err)
		}
	}
}

// buildRuntime creates the engine. scripted is the adapter used by the
// scripted provider and may be nil.
func buildRuntime(ctx context.Context, o options, ch ds.Channel, scripted ds.InferenceAdapter) (*runtime, error) {
	cfg := dragonscale.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = dragonscale.LoadConfig(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.interpret {
		cfg.InterpretAnswers = true
	}

	rt := &runtime{arm: demo.NewRobotArm(nil), metrics: prometheus.NewRegistry()}
	var extra []registry.Source
	if o.manuals {
		g, err := rt.genkitFor(ctx, o)
		if err != nil {
			return nil, err
		}
		extra = append(extra, adapters.NewRetrieverSource("manuals",
			"Maintenance notes of the robot arm: which screw lengths fit which part and the order of start-up "+
				"and shutdown steps.",
			demo.DefineManualRetriever(g),
			adapters.WithMaxResults(3),
			adapters.WithMinScore(0.2)))
	}
	reg, err := rt.arm.Registry(extra...)
	if err != nil {
		return nil, err
	}

	adapter, err := buildAdapter(ctx, o, rt, reg, scripted)
	if err != nil {
		return nil, err
	}
	c, err := buildCache(ctx, o, cfg, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if o.calllogDB != "" {
		store, err := calllog.OpenSQLite(ctx, o.calllogDB)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		rt.calls = store
	} else {
		rt.calls = calllog.NewMemory()
	}

	opts := []dragonscale.Option{
		dragonscale.WithConfig(cfg),
		dragonscale.WithRegistry(reg),
		dragonscale.WithCache(c),
		dragonscale.WithCallRecorder(rt.calls),
	}
	if adapter != nil {
		opts = append(opts, dragonscale.WithAdapter(adapter))
	}
	if ch != nil {
		opts = append(opts, dragonscale.WithChannel(ch))
	}
	if rt.engine, err = dragonscale.New(opts...); err != nil {
		rt.Close()
		return nil, err
	}

	if bus := rt.engine.EventBus(); bus != nil {
		if rt.collector, err = metrics.NewCollector(rt.metrics); err != nil {
			rt.Close()
			return nil, err
		}
		if err := rt.collector.Attach(bus); err != nil {
			rt.Close()
			return nil, err
		}
	}
	return rt, nil
}

// genkitFor initializes Genkit once per runtime. The Google AI plugin is
// only loaded for the genkit providers.
func (r *runtime) genkitFor(ctx context.Context, o options) (*genkit.Genkit, error) {
	if r.g != nil {
		return r.g, nil
	}
	var opts []genkit.GenkitOption
	if o.provider == "genkit" || o.provider == "genkit-prompts" {
		model := o.model
		if model == "" {
			model = defaultGenkitModel
		}
		// Ensure GEMINI_API_KEY or GOOGLE_API_KEY is set for the Google AI plugin.
		opts = append(opts, genkit.WithPlugins(&googlegenai.GoogleAI{}), genkit.WithDefaultModel(model))
	}
	g, err := genkit.Init(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("genkit initialization failed: %w", err)
	}
	r.g = g
	return g, nil
}

func buildAdapter(ctx context.Context, o options, rt *runtime, reg *registry.Registry, scripted ds.InferenceAdapter) (ds.InferenceAdapter, error) {
	switch o.provider {
	case "", "scripted":
		return scripted, nil

	case "genkit", "genkit-prompts":
		g, err := rt.genkitFor(ctx, o)
		if err != nil {
			return nil, err
		}
		if o.provider == "genkit" {
			return adapters.NewGenkitFlowAdapter(adapters.DefineInferenceFlow(g, "dragonscaleInference")), nil
		}
		set, err := prompt.Build(reg)
		if err != nil {
			return nil, err
		}
		return adapters.NewGenkitPromptAdapter(prompt.FromGenkit(g), set)

	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
		}
		model := o.model
		if model == "" {
			model = defaultAnthropicModel
		}
		return adapters.NewAnthropicFromAPIKey(key, model)
	}
	return nil, fmt.Errorf("unknown provider %q", o.provider)
}

func buildCache(ctx context.Context, o options, cfg dragonscale.Config, rt *runtime) (ds.Cache, error) {
	switch {
	case o.redisAddr != "":
		c := cache.NewRedisCache(o.redisAddr, os.Getenv("REDIS_PASSWORD"), 0, cache.WithTTL(cfg.CacheTTL))
		rt.closers = append(rt.closers, c.Close)
		if err := c.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis at %s is not reachable: %w", o.redisAddr, err)
		}
		return c, nil
	case o.cacheFile != "":
		return cache.NewFilePersistentCache(cfg.CacheTTL, o.cacheFile)
	}
	c := cache.NewInMemoryCache(cfg.CacheTTL)
	rt.closers = append(rt.closers, c.Close)
	return c, nil
}
