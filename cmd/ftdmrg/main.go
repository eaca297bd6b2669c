// Command ftdmrg computes finite-temperature one-particle density matrices.
//
// Example:
//
//	ftdmrg fcidump -n 8 -u 4 -o FCIDUMP
//	ftdmrg run -c run.yaml
//
// or phase by phase, each in its own process:
//
//	ftdmrg init -c run.yaml
//	ftdmrg evolve -c run.yaml --n-steps 1 --n-sub-sweeps 6
//	ftdmrg evolve -c run.yaml --n-steps 9 --cont
//	ftdmrg rdm -c run.yaml
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)
	// A missing .env is fine.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Getenv).ExecuteContext(ctx); err != nil {
		log.Fatalf("%+v", err)
	}
}
