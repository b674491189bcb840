package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/visionarypath/sight/host"
)

const consoleHelp = `commands:
  start | stop | toggle     control live detection
  capture [FILE]            detect on one frame, optionally saving it
  reset                     stop and clear the overlay
  switch-camera             switch between the rear and the front camera
  switch-model NAME         load another configured model
  hide | show               simulate the app going to the background and back
  metrics                   print the latest timing and a summary
  status                    print the run state
  quit`

// console executes line commands against a host.
type console struct {
	h   *host.Host
	out io.Writer
}

func newConsole(h *host.Host, out io.Writer) *console {
	return &console{h: h, out: out}
}

// run executes commands read from in until quit, EOF or ctx is done.
func (cons *console) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	fmt.Fprintln(cons.out, consoleHelp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			quit, err := cons.exec(ctx, line)
			if err != nil {
				fmt.Fprintf(cons.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// exec runs one command line and reports whether the console should quit.
func (cons *console) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "start":
		return false, cons.h.Start(ctx)
	case "stop":
		cons.h.Stop()
	case "toggle":
		running, err := cons.h.Toggle(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(cons.out, "live detection running: %t\n", running)
	case "capture":
		img, err := cons.h.Capture(ctx)
		if err != nil {
			return false, err
		}
		for _, d := range cons.h.Detections() {
			fmt.Fprintln(cons.out, d)
		}
		if len(args) != 0 {
			if err := imaging.Save(img, args[0]); err != nil {
				return false, errors.Wrapf(err, "cannot save capture to %q", args[0])
			}
			fmt.Fprintf(cons.out, "saved %s\n", args[0])
		}
	case "reset":
		return false, cons.h.Reset(ctx)
	case "switch-camera":
		mode, err := cons.h.SwitchCamera(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(cons.out, "camera facing %s\n", mode)
	case "switch-model":
		if len(args) != 1 {
			return false, errors.New("usage: switch-model NAME")
		}
		if err := cons.h.SwitchModel(ctx, args[0]); err != nil {
			return false, err
		}
		fmt.Fprintf(cons.out, "model %s loaded\n", args[0])
	case "hide":
		cons.h.SetHidden(true)
	case "show":
		cons.h.SetHidden(false)
	case "metrics":
		fmt.Fprintln(cons.out, cons.h.Metrics().Report())
		summary, err := summaryTable(cons.h.Metrics(), cons.h.Stats())
		if err != nil {
			return false, err
		}
		fmt.Fprintln(cons.out, summary)
	case "status":
		fmt.Fprintf(cons.out, "running: %t, model: %s, facing: %s\n", cons.h.Running(), cons.h.Model(), cons.h.Facing())
		if err := cons.h.Err(); err != nil {
			fmt.Fprintf(cons.out, "last failure: %v\n", err)
		}
	case "help":
		fmt.Fprintln(cons.out, consoleHelp)
	case "quit", "exit":
		return true, nil
	default:
		return false, errors.Errorf("unknown command %q, try help", cmd)
	}
	return false, nil
}
