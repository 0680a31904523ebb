// Command ncd loads DOJ National Caseload Data archives into a storage
// backend.
//
//	ncd load FY2020.zip FY2021.zip
//	ncd import https://www.justice.gov/usao/resources/foia-library/national-caseload-data
//	ncd schema FY2020.zip
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("fatal error")
		stop()
		os.Exit(1)
	}
}
