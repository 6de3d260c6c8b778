package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/hanpama/restframe/internal/config"
	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/engine"
	"github.com/hanpama/restframe/internal/eventbus"
	"github.com/hanpama/restframe/internal/operator"
	"github.com/hanpama/restframe/internal/otel"
	"github.com/hanpama/restframe/internal/paginate"
	"github.com/hanpama/restframe/internal/server"
	"github.com/hanpama/restframe/internal/store"
	"github.com/hanpama/restframe/internal/store/memstore"
	"github.com/hanpama/restframe/internal/store/pgxstore"
	"github.com/hanpama/restframe/internal/store/sqlgen"
	"github.com/hanpama/restframe/internal/store/sqlstore"
)

const rootUsage = `restframe - resource-document HTTP API server

USAGE:
  restframe <command> [flags]

COMMANDS:
  serve            Run the HTTP API described by a project file
  check            Validate a project file and exit
  schema           Print the DDL derived from a project file
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -config <file>          Project file (default: restframe.yaml)
  -server.addr <addr>     Override the listen address from the project file
  -server.pretty          Pretty-print JSON responses
  -otel.endpoint <addr>   OTLP collector endpoint
  -otel.service <name>    OpenTelemetry service name (default: restframe)
`

const checkUsage = `check FLAGS:
  -config <file>          Project file (default: restframe.yaml)
  (Validation always runs; exits non-zero on errors)
`

const schemaUsage = `schema FLAGS:
  -config <file>          Project file (default: restframe.yaml)
  -dialect <name>         sqlite or postgres (default: sqlite)
  -out <file>             Write DDL to file (default: stdout)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("restframe", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "check":
		return cmdCheck(cmdArgs)
	case "schema":
		return cmdSchema(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	case "check":
		fmt.Print(checkUsage)
	case "schema":
		fmt.Print(schemaUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func cmdServe(args []string) error {
	cfgPath := "restframe.yaml"
	addr := ""
	pretty := false
	otelEndpoint := ""
	otelService := "restframe"

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&cfgPath, "config", cfgPath, "Project file")
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if pretty {
		cfg.Server.Pretty = true
	}

	reg, err := cfg.BuildRegistry()
	if err != nil {
		return err
	}

	ctx := context.Background()
	da, closeStore, err := openStore(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer closeStore()

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	eng := engine.New(reg, operator.NewRegistry(), da,
		engine.WithBaseURL(cfg.Server.BasePath),
		engine.WithPage(paginate.Config{DefaultSize: cfg.Page.DefaultSize, MaxSize: cfg.Page.MaxSize}),
	)

	sopts := []server.Option{server.WithBasePath(cfg.Server.BasePath)}
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if cfg.Server.Timeout > 0 {
		sopts = append(sopts, server.WithTimeout(cfg.Server.Timeout.Std()))
	}
	if cfg.Server.MaxBodyBytes > 0 {
		sopts = append(sopts, server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes))
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.Server.CORSOrigins...))
	}
	h := server.New(eng, sopts...)

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.BasePath+"/", h)

	log.Printf("resource API listening on %s%s", cfg.Server.Addr, cfg.Server.BasePath)
	return http.ListenAndServe(cfg.Server.Addr, mux)
}

// openStore builds the configured backend and its cleanup.
func openStore(ctx context.Context, cfg *config.Config, reg *descriptor.Registry) (store.DataAccess, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		return memstore.New(reg), func() {}, nil
	case "sqlite":
		s, err := sqlstore.Open(cfg.Store.DSN, reg)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		s, err := pgxstore.Open(ctx, cfg.Store.DSN, reg)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func cmdCheck(args []string) error {
	cfgPath := "restframe.yaml"
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&cfgPath, "config", cfgPath, "Project file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, checkUsage)
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if _, err := cfg.BuildRegistry(); err != nil {
		return err
	}
	fmt.Printf("%s: %d resources ok\n", cfgPath, len(cfg.Resources))
	return nil
}

func cmdSchema(args []string) error {
	cfgPath := "restframe.yaml"
	dialect := "sqlite"
	outFile := ""
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&cfgPath, "config", cfgPath, "Project file")
	fs.StringVar(&dialect, "dialect", dialect, "SQL dialect")
	fs.StringVar(&outFile, "out", outFile, "Write DDL to file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, schemaUsage)
		return err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	reg, err := cfg.BuildRegistry()
	if err != nil {
		return err
	}

	gen := sqlgen.Generator{Reg: reg}
	switch dialect {
	case "sqlite":
		gen.Dialect = sqlgen.SQLite{}
	case "postgres":
		gen.Dialect = sqlgen.Postgres{}
	default:
		return fmt.Errorf("unknown dialect %q", dialect)
	}
	stmts, err := gen.Schema()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, stmt := range stmts {
		buf.WriteString(stmt)
		buf.WriteString(";\n\n")
	}
	if outFile == "" {
		fmt.Print(buf.String())
		return nil
	}
	return os.WriteFile(outFile, buf.Bytes(), 0644)
}
