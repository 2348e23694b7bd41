package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/order-parser/internal/workflow"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker for async parsing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		tc, err := workflow.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer tc.Close()

		opts := worker.Options{}
		if workerConcurrency > 0 {
			opts.MaxConcurrentActivityExecutionSize = workerConcurrency
		}
		w := worker.New(tc, cfg.Temporal.TaskQueue, opts)
		workflow.Register(w, &workflow.Activities{Runner: env.Runner})

		zap.L().Info("starting worker",
			zap.String("task_queue", cfg.Temporal.TaskQueue),
			zap.String("namespace", cfg.Temporal.Namespace),
		)

		interrupt := make(chan interface{})
		go func() {
			<-ctx.Done()
			close(interrupt)
		}()
		if err := w.Run(interrupt); err != nil {
			return eris.Wrap(err, "worker run")
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "max concurrent parse activities (default from SDK)")
	rootCmd.AddCommand(workerCmd)
}
