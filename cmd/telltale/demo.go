package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mattjoyce/telltale/internal/config"
	"github.com/mattjoyce/telltale/internal/dispatch"
	"github.com/mattjoyce/telltale/internal/hardware"
	"github.com/mattjoyce/telltale/internal/log"
	"github.com/mattjoyce/telltale/internal/prop"
	"github.com/mattjoyce/telltale/internal/schema"
	"github.com/mattjoyce/telltale/internal/transport"
)

func runSchemaNoun(args []string) int {
	if len(args) < 1 {
		printSchemaNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSchemaNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "show":
		if hasHelpFlag(actionArgs) {
			printSchemaShowHelp()
			return 0
		}
		return runSchemaShow(actionArgs)
	case "help":
		printSchemaNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown schema action: %s\n", action)
		return 1
	}
}

func printSchemaNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: telltale schema <action> [flags]")
	fmt.Fprintln(w, "Actions: show")
}

func printSchemaShowHelp() {
	fmt.Println("Usage: telltale schema show [--config PATH] [--schema PATH] [--json]")
	fmt.Println("Print the loaded property table: ids, types, areas, and bounds.")
}

func runSchemaShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	schemaPath := fs.String("schema", "", "Schema file (overrides the config's schema.path)")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path := *schemaPath
	if path == "" {
		cfg, err := config.LoadUnverified(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
			return 1
		}
		path = cfg.Schema.Path
		if path == "" {
			fmt.Fprintln(os.Stderr, "No schema configured: set schema.path or pass --schema")
			return 1
		}
	}

	sch, err := schema.LoadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Schema error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(sch.All(), "", "  ")
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("%d properties loaded from %s\n\n", sch.Len(), path)
	for _, cfg := range sch.All() {
		fmt.Printf("0x%x  %s\n", uint32(cfg.Prop), cfg.Type)
		if len(cfg.Areas) == 0 {
			fmt.Println("    area 0 (global) unbounded")
			continue
		}
		for _, ac := range cfg.Areas {
			fmt.Printf("    area %d %s\n", ac.Area, areaBounds(cfg.Type, ac))
		}
	}
	return 0
}

// areaBounds renders the bounds arm matching the property's type.
func areaBounds(t prop.Type, ac prop.AreaConfig) string {
	var lo, hi string
	switch t.Kind() {
	case prop.KindInt32s:
		if ac.MinInt32 != nil {
			lo = fmt.Sprint(*ac.MinInt32)
		}
		if ac.MaxInt32 != nil {
			hi = fmt.Sprint(*ac.MaxInt32)
		}
	case prop.KindInt64s:
		if ac.MinInt64 != nil {
			lo = fmt.Sprint(*ac.MinInt64)
		}
		if ac.MaxInt64 != nil {
			hi = fmt.Sprint(*ac.MaxInt64)
		}
	case prop.KindFloats:
		if ac.MinFloat != nil {
			lo = fmt.Sprint(*ac.MinFloat)
		}
		if ac.MaxFloat != nil {
			hi = fmt.Sprint(*ac.MaxFloat)
		}
	}
	if lo == "" && hi == "" {
		return "unbounded"
	}
	if lo == "" {
		lo = "-inf"
	}
	if hi == "" {
		hi = "+inf"
	}
	return fmt.Sprintf("[%s, %s]", lo, hi)
}

func printDemoHelp() {
	fmt.Println("Usage: telltale demo [--requests N] [--batch M] [--latency DUR] [--timeout DUR]")
	fmt.Println("Boot an in-process stack over the fake backend and drive set/get bursts,")
	fmt.Println("printing status counts and batch round-trip latency.")
}

const demoProp int32 = 0x4200

// demoSchema builds one INT32 property with an area per batch slot so a
// full batch never collides on (prop, area).
func demoSchema(areas int) (*schema.Schema, error) {
	lo, hi := int32(0), int32(999)
	acs := make([]prop.AreaConfig, 0, areas)
	for a := 1; a <= areas; a++ {
		area := int32(a)
		acs = append(acs, prop.AreaConfig{Area: area, MinInt32: &lo, MaxInt32: &hi})
	}
	return schema.New([]prop.Config{{Prop: demoProp, Type: prop.TypeInt32, Areas: acs}})
}

type demoClient struct {
	setReq *transport.Codec[prop.SetRequest]
	getReq *transport.Codec[prop.GetRequest]
	setRes *transport.Codec[prop.SetResult]
	getRes *transport.Codec[prop.GetResult]
	sets   chan []prop.SetResult
	gets   chan []prop.GetResult
}

func newDemoClient(buffers *transport.FileStore, inlineLimit int) *demoClient {
	return &demoClient{
		setReq: transport.NewCodec[prop.SetRequest](buffers, inlineLimit),
		getReq: transport.NewCodec[prop.GetRequest](buffers, inlineLimit),
		setRes: transport.NewCodec[prop.SetResult](buffers, inlineLimit),
		getRes: transport.NewCodec[prop.GetResult](buffers, inlineLimit),
		sets:   make(chan []prop.SetResult, 16),
		gets:   make(chan []prop.GetResult, 16),
	}
}

func (c *demoClient) OnSetResults(env *transport.Envelope) error {
	results, err := c.setRes.Decode(env)
	if err != nil {
		return err
	}
	c.sets <- results
	return nil
}

func (c *demoClient) OnGetResults(env *transport.Envelope) error {
	results, err := c.getRes.Decode(env)
	if err != nil {
		return err
	}
	c.gets <- results
	return nil
}

func runDemo(args []string) int {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	requests := fs.Int("requests", 100, "Total requests per kind")
	batch := fs.Int("batch", 10, "Requests per batch")
	latency := fs.Duration("latency", 2*time.Millisecond, "Simulated hardware latency")
	timeout := fs.Duration("timeout", time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if *requests < 1 || *batch < 1 {
		fmt.Fprintln(os.Stderr, "--requests and --batch must be positive")
		return 1
	}

	// The demo prints its own summary; keep the service log quiet.
	log.Setup("ERROR")

	sch, err := demoSchema(*batch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Demo schema error: %v\n", err)
		return 1
	}

	fake := hardware.NewFake(sch, hardware.NewMemStore(), 4)
	if *latency > 0 {
		fake.SetLatency(*latency)
	}
	defer fake.Close()

	buffers, err := transport.NewFileStore(transport.DefaultBufferDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Buffer store error: %v\n", err)
		return 1
	}

	svc, err := dispatch.NewService(fake,
		dispatch.WithTimeout(*timeout),
		dispatch.WithBufferStore(buffers),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service error: %v\n", err)
		return 1
	}
	defer svc.Close()

	cl := newDemoClient(buffers, 4096)
	waitFor := 2**timeout + time.Second

	statuses := make(map[prop.StatusCode]int)
	var latencies []time.Duration
	nextID := int64(1)

	for sent := 0; sent < *requests; {
		n := *batch
		if remaining := *requests - sent; remaining < n {
			n = remaining
		}

		setReqs := make([]prop.SetRequest, 0, n)
		getReqs := make([]prop.GetRequest, 0, n)
		for i := 0; i < n; i++ {
			v := prop.Value{Prop: demoProp, Area: int32(i + 1), Payload: prop.Int32s(int32((sent + i) % 1000))}
			setReqs = append(setReqs, prop.SetRequest{RequestID: nextID, Value: v})
			getReqs = append(getReqs, prop.GetRequest{RequestID: nextID + 1, Value: prop.Value{Prop: demoProp, Area: int32(i + 1)}})
			nextID += 2
		}

		env, err := cl.setReq.Encode(setReqs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Encode error: %v\n", err)
			return 1
		}
		start := time.Now()
		if err := svc.SetValues(cl, env); err != nil {
			fmt.Fprintf(os.Stderr, "Set batch rejected: %v\n", err)
			return 1
		}
		select {
		case results := <-cl.sets:
			latencies = append(latencies, time.Since(start))
			for _, r := range results {
				statuses[r.Status]++
			}
		case <-time.After(waitFor):
			fmt.Fprintln(os.Stderr, "No set results delivered")
			return 1
		}

		env, err = cl.getReq.Encode(getReqs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Encode error: %v\n", err)
			return 1
		}
		start = time.Now()
		if err := svc.GetValues(cl, env); err != nil {
			fmt.Fprintf(os.Stderr, "Get batch rejected: %v\n", err)
			return 1
		}
		select {
		case results := <-cl.gets:
			latencies = append(latencies, time.Since(start))
			for _, r := range results {
				statuses[r.Status]++
			}
		case <-time.After(waitFor):
			fmt.Fprintln(os.Stderr, "No get results delivered")
			return 1
		}

		sent += n
	}

	var minLat, maxLat, total time.Duration
	for i, d := range latencies {
		if i == 0 || d < minLat {
			minLat = d
		}
		if d > maxLat {
			maxLat = d
		}
		total += d
	}
	avgLat := total / time.Duration(len(latencies))

	fmt.Printf("demo complete: %d set + %d get requests in %d batches\n", *requests, *requests, len(latencies))
	for code := prop.StatusCode(0); code <= 5; code++ {
		if n := statuses[code]; n > 0 {
			fmt.Printf("  %s: %d\n", code, n)
		}
	}
	fmt.Printf("batch round trip: min=%s avg=%s max=%s\n", minLat, avgLat, maxLat)
	return 0
}
