package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/prismward/prism/go/orchestrator"
	"github.com/prismward/prism/go/registry"
	"github.com/prismward/prism/go/scaffold"
)

// Exit codes of prismctl. Operators and CI key off these.
const (
	exitOK            = 0
	exitUnknownSchema = 2
	exitCollision     = 3
	exitWarehouse     = 4
	exitCancelled     = 5
)

func main() {
	var parser = flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)

	addCmd(parser, "onboard", "Onboard a tenant", `
Run the full onboarding pipeline of one tenant: ingest history for each
enabled source, scaffold the push circuit from landed tables, materialize
the model graph, and refresh the reporting layer.
`, &cmdOnboard{})

	addCmd(parser, "initialize-connector-library", "Initialize the blueprint registry", `
Fingerprint every connector catalog entry and publish the blueprint table
in the target warehouse. Re-running against an unchanged catalog is a no-op.
`, &cmdInitLibrary{})

	addCmd(parser, "serve", "Serve the onboarding HTTP API", `
Serve the thin HTTP surface consumed by the onboarding frontend:
POST /onboard and GET /readiness/{tenant_slug}.
`, &cmdServe{})

	var _, err = parser.Parse()
	if err != nil {
		if flagErr, ok := err.(*flags.Error); ok && flagErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(exitOK)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeOf(err))
	}
}

// exitCodeOf maps run errors onto the documented exit codes.
func exitCodeOf(err error) int {
	var unknown *scaffold.UnknownSchemaError
	var collision *registry.CollisionError
	switch {
	case errors.As(err, &unknown):
		return exitUnknownSchema
	case errors.As(err, &collision):
		return exitCollision
	case errors.Is(err, orchestrator.ErrCancelled):
		return exitCancelled
	default:
		return exitWarehouse
	}
}

func addCmd(to interface {
	AddCommand(string, string, string, interface{}) (*flags.Command, error)
}, a, b, c string, iface interface{}) *flags.Command {
	var cmd, err = to.AddCommand(a, b, c, iface)
	if err != nil {
		panic(fmt.Sprintf("failed to add flags parser command: %s", err))
	}
	return cmd
}
