// Command loadtest имитирует кассиров, параллельно проводящих продажи через gRPC.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcsvc "github.com/vladislavdragonenkov/pos/internal/service/grpc"
)

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		exitf("invalid config: %v", err)
	}

	clients, closeClients, err := dialSaleClients(cfg)
	if err != nil {
		exitf("failed to create grpc client connection: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	result := run(ctx, cfg, clients)
	stop()
	closeClients()

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			exitf("failed to write report: %v", err)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func exitf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// dialSaleClients открывает cfg.connections соединений; кассиры делят их по кругу.
func dialSaleClients(cfg config) ([]saleClient, func(), error) {
	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	closeAll := func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}

	clients := make([]saleClient, 0, cfg.connections)
	for range cfg.connections {
		conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		conns = append(conns, conn)
		clients = append(clients, grpcsvc.NewSaleServiceClient(conn))
	}
	return clients, closeAll, nil
}

// run гоняет сценарии, пока не исчерпан счётчик, не истекло время или не отменён ctx.
func run(ctx context.Context, cfg config, clients []saleClient) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	stats := newCollector()
	jobs := make(chan int, cfg.concurrency*2)

	var workers errgroup.Group
	for i := range cfg.concurrency {
		c := &cashier{client: clients[i%len(clients)], cfg: cfg, runID: runID, stats: stats}
		workers.Go(func() error {
			for index := range jobs {
				// сбой сценария уже учтён в stats
				_ = c.sell(ctx, index)
			}
			return nil
		})
	}

	dispatchJobs(ctx, jobs, cfg)
	_ = workers.Wait()

	return stats.finish(startedAt, time.Since(startedAt))
}

// dispatchJobs раздаёт номера сценариев и закрывает jobs по завершении.
func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	limited := cfg.duration <= 0 || cfg.totalSet

	for i := 0; !limited || i < cfg.total; i++ {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}
