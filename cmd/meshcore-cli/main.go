// Command meshcore-cli runs a single mesh node with an interactive,
// line-oriented console, mirroring the firmware's serial command shell as
// exercised by tools/serial_test.py: one command per line, one response
// per command.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atomozero/meshcore-go/pkg/meshnode"
	"github.com/atomozero/meshcore-go/pkg/wire"
)

// wallClock adapts real elapsed time (milliseconds since the process
// started) into a clock.Source for interactive use; the virtual clock in
// pkg/clock is reserved for tests and the deterministic scenario runner.
type wallClock struct{ start time.Time }

func newWallClock() *wallClock { return &wallClock{start: time.Now()} }

func (w *wallClock) MillisNow() int64 { return time.Since(w.start).Milliseconds() }

// console is the subset of meshnode.Repeater/Companion the shell drives.
type console interface {
	ProcessCommand(string) string
	Tick() []*wire.Packet
	DrainEvents() []meshnode.Event
}

func main() {
	name := flag.String("name", "node1", "node name")
	role := flag.String("role", "repeater", "node role: repeater or companion")
	tickEvery := flag.Duration("tick", 250*time.Millisecond, "background tick interval")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	clk := newWallClock()

	var node console
	var hash byte
	switch *role {
	case "repeater":
		r, err := meshnode.NewRepeater(*name, clk)
		if err != nil {
			logrus.Fatalf("new repeater: %v", err)
		}
		node, hash = r, r.Identity.Hash()
	case "companion":
		c, err := meshnode.NewCompanion(*name, clk)
		if err != nil {
			logrus.Fatalf("new companion: %v", err)
		}
		node, hash = c, c.Identity.Hash()
	default:
		logrus.Fatalf("unknown role %q (want repeater or companion)", *role)
	}

	logrus.Infof("meshcore-cli: %s (%s) hash=%02X, type 'help' for commands", *name, *role, hash)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(*tickEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, pkt := range node.Tick() {
					logrus.Debugf("tx route=%d type=%d path=%d payload=%d", pkt.RouteType(), pkt.PayloadType(), pkt.PathLen(), pkt.PayloadLen())
				}
				for _, ev := range node.DrainEvents() {
					fmt.Println(ev.Message)
				}
			case <-done:
				return
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		reply := node.ProcessCommand(line)
		if reply != "" {
			fmt.Println(reply)
		}
	}
	close(done)
}
