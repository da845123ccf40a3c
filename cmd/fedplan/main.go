// Command fedplan plans a GraphQL operation against a set of federated
// services and prints the resulting query plan as JSON.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jensneuse/abstractlogger"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v2"

	"github.com/wundergraph/federationplan/pkg/graphmodel"
	"github.com/wundergraph/federationplan/pkg/operation"
	"github.com/wundergraph/federationplan/pkg/plan"
)

type servicesConfig struct {
	Services []serviceEntry `yaml:"services"`
}

type serviceEntry struct {
	Name   string `yaml:"name"`
	Schema string `yaml:"schema"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		schemaFile      string
		servicesFile    string
		operationFile   string
		operationName   string
		pretty          bool
		debug           bool
		disableParallel bool
	)

	cmd := &cobra.Command{
		Use:           "fedplan",
		Short:         "plan GraphQL operations across federated services",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(debug)
			if err != nil {
				return err
			}

			graph, err := loadGraph(schemaFile, servicesFile)
			if err != nil {
				return err
			}

			query, err := os.ReadFile(operationFile)
			if err != nil {
				return errors.Wrap(err, "read operation")
			}
			op, err := operation.Parse(graph.Schema(), string(query), operationName)
			if err != nil {
				return err
			}

			planner := plan.NewPlanner(graph, plan.Configuration{
				Logger:                 log,
				DisableParallelFetches: disableParallel,
			})
			queryPlan, err := planner.Plan(op)
			if err != nil {
				return err
			}

			if pretty {
				fmt.Fprintln(cmd.OutOrStdout(), queryPlan.String())
				return nil
			}
			out, err := queryPlan.MarshalJSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&schemaFile, "schema", "", "composed schema SDL file")
	cmd.Flags().StringVar(&servicesFile, "services", "", "yaml file listing service schemas")
	cmd.Flags().StringVar(&operationFile, "operation", "", "file holding the operation to plan")
	cmd.Flags().StringVar(&operationName, "operation-name", "", "operation to plan when the document has several")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the plan JSON")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	cmd.Flags().BoolVar(&disableParallel, "disable-parallel", false, "keep independent fetches sequential")
	_ = cmd.MarkFlagRequired("schema")
	_ = cmd.MarkFlagRequired("services")
	_ = cmd.MarkFlagRequired("operation")

	return cmd
}

func newLogger(debug bool) (abstractlogger.Logger, error) {
	if !debug {
		return abstractlogger.Noop{}, nil
	}
	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		return nil, errors.Wrap(err, "create logger")
	}
	return abstractlogger.NewZapLogger(zapLogger, abstractlogger.DebugLevel), nil
}

func loadGraph(schemaFile, servicesFile string) (*graphmodel.Graph, error) {
	schemaSDL, err := os.ReadFile(schemaFile)
	if err != nil {
		return nil, errors.Wrap(err, "read schema")
	}
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: schemaFile, Input: string(schemaSDL)})
	if err != nil {
		return nil, errors.Wrap(err, "parse schema")
	}

	configData, err := os.ReadFile(servicesFile)
	if err != nil {
		return nil, errors.Wrap(err, "read services config")
	}
	var config servicesConfig
	if err := yaml.Unmarshal(configData, &config); err != nil {
		return nil, errors.Wrap(err, "parse services config")
	}
	if len(config.Services) == 0 {
		return nil, errors.New("services config lists no services")
	}

	baseDir := filepath.Dir(servicesFile)
	services := make([]*graphmodel.ServiceConfiguration, 0, len(config.Services))
	for _, entry := range config.Services {
		if entry.Name == "" || entry.Schema == "" {
			return nil, errors.New("each service needs a name and a schema file")
		}
		schemaPath := entry.Schema
		if !filepath.IsAbs(schemaPath) {
			schemaPath = filepath.Join(baseDir, schemaPath)
		}
		sdl, err := os.ReadFile(schemaPath)
		if err != nil {
			return nil, errors.Wrapf(err, "read schema for service %s", entry.Name)
		}
		service, err := graphmodel.ServiceFromSDL(entry.Name, string(sdl))
		if err != nil {
			return nil, errors.Wrapf(err, "service %s", entry.Name)
		}
		services = append(services, service)
	}

	return graphmodel.NewGraph(schema, services...)
}
