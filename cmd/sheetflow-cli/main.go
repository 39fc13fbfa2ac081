// Command sheetflow-cli validates and runs workflow definitions locally
// against in-memory backends.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/loader"
	"github.com/tcmartin/sheetflow/pkg/logging"
	"github.com/tcmartin/sheetflow/pkg/models"
	"github.com/tcmartin/sheetflow/pkg/propagation"
	"github.com/tcmartin/sheetflow/pkg/runtime"
	"github.com/tcmartin/sheetflow/pkg/storage"
)

func main() {
	root := &cobra.Command{
		Use:   "sheetflow-cli",
		Short: "Validate and run workflow definitions locally",
	}
	root.AddCommand(validateCommand(), runCommand(), typesCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// validateCommand checks a workflow file without executing it
func validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow-file>",
		Short: "Validate a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflow, err := loader.NewLoader(runtime.NewCoreRegistry().Types()).LoadFile(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("workflow %q is valid: %d nodes, %d edges\n",
				workflow.ID, len(workflow.Nodes), len(workflow.Edges))
			return nil
		},
	}
}

// typesCommand lists the node types the runtime can execute
func typesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List executable node types",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, nodeType := range runtime.NewCoreRegistry().Types() {
				cmd.Println(nodeType)
			}
			return nil
		},
	}
}

// runCommand executes a workflow file end to end with in-memory backends
func runCommand() *cobra.Command {
	var files []string
	var timeout time.Duration
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Run a workflow locally",
		Long: `Run a workflow against in-memory storage. Local files back
file.import nodes via --file <store-path>=<local-path> mappings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflow, err := loader.NewLoader(runtime.NewCoreRegistry().Types()).LoadFile(args[0])
			if err != nil {
				return err
			}

			logger := logging.NewNopLogger()
			if verbose {
				logger, err = logging.NewLogger("debug", "console")
				if err != nil {
					return err
				}
			}

			provider := storage.NewMemoryProvider()
			if err := provider.Initialize(); err != nil {
				return err
			}
			objects := storage.NewMemoryObjectStore()
			for _, mapping := range files {
				storePath, localPath, found := strings.Cut(mapping, "=")
				if !found {
					return fmt.Errorf("invalid --file mapping %q, want <store-path>=<local-path>", mapping)
				}
				data, err := os.ReadFile(localPath)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", localPath, err)
				}
				if err := objects.Put(storePath, data); err != nil {
					return err
				}
			}

			cacheStore, err := cache.NewStore(cache.BackendConfig{Type: cache.MemoryBackendType})
			if err != nil {
				return err
			}
			if err := provider.GetWorkflowStore().SaveWorkflow(workflow); err != nil {
				return err
			}

			scheduler := runtime.NewScheduler(runtime.SchedulerDeps{
				Workflows:   provider.GetWorkflowStore(),
				Executions:  provider.GetExecutionStore(),
				Schemas:     provider.GetSchemaStore(),
				Objects:     objects,
				Cache:       cacheStore,
				Coordinator: propagation.NewCoordinator(logger),
				Logger:      logger,
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			scheduler.Start(ctx)
			defer scheduler.Stop()

			execution, err := scheduler.StartExecution(ctx, workflow.ID)
			if err != nil {
				return err
			}

			final, err := waitForTerminal(ctx, provider.GetExecutionStore(), execution.ID)
			if err != nil {
				return err
			}

			printSummary(cmd, final)
			if final.Status == models.ExecutionFailed {
				return fmt.Errorf("execution failed: %s", final.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&files, "file", nil, "map a store path to a local file, e.g. uploads/data.csv=./data.csv")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall run timeout")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

// waitForTerminal polls until the execution completes or fails
func waitForTerminal(ctx context.Context, store storage.ExecutionStore, executionID string) (models.WorkflowExecution, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return models.WorkflowExecution{}, fmt.Errorf("timed out waiting for execution %s", executionID)
		case <-ticker.C:
			execution, err := store.GetExecution(executionID)
			if err != nil {
				return models.WorkflowExecution{}, err
			}
			if execution.Status != models.ExecutionRunning {
				return execution, nil
			}
		}
	}
}

// printSummary writes a per-node result table
func printSummary(cmd *cobra.Command, execution models.WorkflowExecution) {
	cmd.Printf("execution %s: %s\n", execution.ID, execution.Status)

	nodeIDs := make([]string, 0, len(execution.NodeStates))
	for nodeID := range execution.NodeStates {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Strings(nodeIDs)

	for _, nodeID := range nodeIDs {
		state := execution.NodeStates[nodeID]
		line := fmt.Sprintf("  %-20s %s", nodeID, state.Status)
		if state.Error != "" {
			line += "  " + state.Error
		}
		if rows, ok := state.Output["row_count"]; ok {
			line += fmt.Sprintf("  (%v rows)", rows)
		}
		cmd.Println(line)
	}
}
