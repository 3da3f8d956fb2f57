// command t1probe exercises a contact card over T=1: reset it, print
// its ATR, then send each hex-encoded APDU given on the command line.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"cardproto.dev/smartcard"
	"github.com/btcsuite/btclog"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	dev     = flag.String("device", "", "serial device (empty: platform default)")
	baud    = flag.Int("baud", 9600, "serial baud rate")
	cardNAD = flag.String("card-nad", "0x15", "card NAD byte")
	devNAD  = flag.String("dev-nad", "0x51", "device NAD byte")
	verbose = flag.Bool("v", false, "trace protocol exchanges")
)

func main() {
	flag.Parse()
	if err := run(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(apdus []string) error {
	nad1, err := parseByte(*cardNAD)
	if err != nil {
		return fmt.Errorf("-card-nad: %w", err)
	}
	nad2, err := parseByte(*devNAD)
	if err != nil {
		return fmt.Errorf("-dev-nad: %w", err)
	}

	t, err := smartcard.OpenSerial(*dev, *baud)
	if err != nil {
		return err
	}
	defer t.Close()

	var logger btclog.Logger
	if *verbose {
		logger = btclog.NewBackend(os.Stderr).Logger("T1PROBE")
		logger.SetLevel(btclog.LevelDebug)
	}

	card, err := smartcard.New(smartcard.Config{
		CardNAD:   nad1,
		DevNAD:    nad2,
		Transport: t,
		Logger:    logger,
		Metrics:   smartcard.NewMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	atr, err := card.ATR()
	if err != nil {
		return fmt.Errorf("ATR: %w", err)
	}
	fmt.Printf("ATR: % x\n", atr)

	for _, a := range apdus {
		capdu, err := hex.DecodeString(a)
		if err != nil {
			return fmt.Errorf("invalid APDU %q: %w", a, err)
		}
		rapdu, err := card.Transmit(capdu)
		if err != nil {
			return fmt.Errorf("transmit %q: %w", a, err)
		}
		fmt.Printf("%s -> % x\n", a, rapdu)
	}
	return nil
}

func parseByte(s string) (byte, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}
