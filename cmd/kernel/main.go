// Command kernel boots the hosted microkernel with one of the design's
// demo scenarios (§4.11) and runs it to completion. There is no real
// RV64 hart to flash this onto; this is the kernel's own "qemu -kernel"
// substitute, driving the same boot-and-schedule path a real target
// would, against a fake SBI and either an in-memory or file-backed
// block device.
package main

import (
	"archive/tar"
	"bytes"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/google/pprof/profile"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"blockdev"
	"fixtures"
	"fsservice"
	"kernel"
	"proc"
	"sbi"
)

func main() {
	var (
		scenario    string
		diskPath    string
		logLevel    string
		pprofAddr   string
		pages       int
		profilePath string
	)

	root := &cobra.Command{
		Use:   "kernel",
		Short: "boot the hosted RV64/Sv39 microkernel against one of its demo scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("kernel: %w", err)
			}
			logger := logrus.New()
			logger.SetLevel(level)

			if pprofAddr != "" {
				go func() {
					logger.WithField("addr", pprofAddr).Info("kernel: serving pprof")
					if err := http.ListenAndServe(pprofAddr, nil); err != nil {
						logger.WithError(err).Warn("kernel: pprof server stopped")
					}
				}()
			}

			if profilePath != "" {
				return reportProfile(profilePath, logger)
			}
			return run(scenario, diskPath, pages, logger)
		},
	}

	root.Flags().StringVarP(&scenario, "scenario", "s", "all",
		"demo scenario to boot: hello, named, ipc, cap, fs, or all")
	root.Flags().StringVarP(&diskPath, "disk", "d", "",
		"disk image for the fs scenario (built in-memory if omitted)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "logrus level")
	root.Flags().StringVar(&pprofAddr, "pprof", "", "if set, serve net/http/pprof on this address")
	root.Flags().IntVar(&pages, "pages", 4096, "physical pages to hand the bump allocator")
	root.Flags().StringVar(&profilePath, "profile-report", "",
		"summarize a pprof profile captured from --pprof instead of booting a scenario")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(scenario, diskPath string, pages int, logger *logrus.Logger) error {
	switch scenario {
	case "hello":
		return bootHello(pages, logger)
	case "named":
		return bootNamed(pages, logger)
	case "ipc":
		return bootIPC(pages, logger)
	case "cap":
		return bootCap(pages, logger)
	case "fs":
		return bootFS(pages, diskPath, logger)
	case "all":
		for _, s := range []string{"hello", "named", "ipc", "cap", "fs"} {
			if err := run(s, diskPath, pages, logger); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("kernel: unknown scenario %q", scenario)
	}
}

// reportProfile summarizes a pprof profile captured from the --pprof
// HTTP endpoint (e.g. via `go tool pprof -proto`), logging per-sample-
// type totals instead of requiring a separate pprof install just to
// sanity-check a capture from this binary.
func reportProfile(path string, logger *logrus.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("kernel: profile-report: %w", err)
	}
	defer f.Close()

	p, err := profile.Parse(f)
	if err != nil {
		return fmt.Errorf("kernel: profile-report: %w", err)
	}

	totals := make([]int64, len(p.SampleType))
	for _, s := range p.Sample {
		for i, v := range s.Value {
			totals[i] += v
		}
	}
	for i, st := range p.SampleType {
		logger.WithFields(logrus.Fields{
			"type": st.Type, "unit": st.Unit, "total": totals[i],
		}).Info("kernel: profile sample type")
	}
	logger.WithFields(logrus.Fields{
		"samples": len(p.Sample), "locations": len(p.Location), "functions": len(p.Function),
	}).Info("kernel: profile-report complete")
	return nil
}

func newFakeKernel(pages int, disk blockdev.Device, logger *logrus.Logger) (*kernel.Kernel, *sbi.Fake) {
	fw := sbi.NewFake(logger.WithField("component", "sbi"))
	if disk == nil {
		disk = blockdev.NewMemory(0)
	}
	k := kernel.New(kernel.Config{PhysicalPages: pages, Firmware: fw, Disk: disk, Logger: logger})
	return k, fw
}

func report(scenario string, k *kernel.Kernel, fw *sbi.Fake, logger *logrus.Logger) error {
	k.Run()
	reset, _ := fw.LastReset()
	logger.WithFields(logrus.Fields{
		"scenario": scenario,
		"console":  string(fw.ConsoleOutput()),
		"reset":    reset.Type.String() + "/" + reset.Reason.String(),
	}).Info("kernel: scenario complete")
	for pid, p := range k.Snapshot() {
		if p.State == proc.Unused {
			continue
		}
		logger.WithFields(logrus.Fields{
			"scenario": scenario, "pid": pid, "process": p.Name, "state": p.State.String(),
		}).Info("kernel: process summary")
	}
	return nil
}

// S1: hello world.
func bootHello(pages int, logger *logrus.Logger) error {
	k, fw := newFakeKernel(pages, nil, logger)
	if err := k.Boot([]kernel.Image{{Name: "hello", ELF: fixtures.Hello()}}); err != nil {
		return err
	}
	return report("hello", k, fw, logger)
}

// S2: name resolution between two processes.
func bootNamed(pages int, logger *logrus.Logger) error {
	k, fw := newFakeKernel(pages, nil, logger)
	images := []kernel.Image{
		{Name: "bob", ELF: fixtures.Bob()},
		{Name: "alice", ELF: fixtures.Alice()},
	}
	if err := k.Boot(images); err != nil {
		return err
	}
	return report("named", k, fw, logger)
}

// S3: one-way IPC round trip, sender resolves the receiver by name.
func bootIPC(pages int, logger *logrus.Logger) error {
	k, fw := newFakeKernel(pages, nil, logger)
	images := []kernel.Image{
		{Name: "ipc-b", ELF: fixtures.IPCB()},
		{Name: "ipc-a", ELF: fixtures.IPCA()},
	}
	if err := k.Boot(images); err != nil {
		return err
	}
	return report("ipc", k, fw, logger)
}

// S4: three-party capability forwarding chain, exercised directly
// against cap.Engine since grant/forward/validate are user-memory
// operations rather than syscalls (§4.8).
func bootCap(pages int, logger *logrus.Logger) error {
	k, fw := newFakeKernel(pages, nil, logger)
	images := []kernel.Image{
		{Name: "cap-a", ELF: fixtures.CapA()},
		{Name: "cap-b", ELF: fixtures.CapB()},
		{Name: "cap-c", ELF: fixtures.CapC()},
	}
	if err := k.Boot(images); err != nil {
		return err
	}

	a := k.Table.PidByName("cap-a")
	b := k.Table.PidByName("cap-b")
	c := k.Table.PidByName("cap-c")
	aRoot := k.Table.Get(a).Root
	bRoot := k.Table.Get(b).Root

	grant := k.Caps.Grant(k.Phys, aRoot, a, b)
	forward := k.Caps.Forward(k.Phys, bRoot, b, c, grant)
	if _, err := k.Caps.Validate(k.Phys, aRoot, a, grant, b); err != nil {
		logger.WithError(err).Warn("kernel: cap scenario: a failed to validate its grant to b")
	}
	if _, err := k.Caps.Validate(k.Phys, aRoot, a, forward, c); err != nil {
		logger.WithError(err).Warn("kernel: cap scenario: a failed to validate c's forwarded capability")
	}

	return report("cap", k, fw, logger)
}

// S5: filesystem service over a ustar-backed block device.
func bootFS(pages int, diskPath string, logger *logrus.Logger) error {
	disk, err := openOrBuildDisk(diskPath)
	if err != nil {
		return err
	}
	k, fw := newFakeKernel(pages, disk, logger)

	fsPID, fsRoot, err := k.Table.CreateNativeProcess(k.Phys, "fsservice")
	if err != nil {
		return err
	}
	svc, err := fsservice.New(k.Phys, k.Caps, fsPID, fsRoot, disk)
	if err != nil {
		return err
	}
	k.Table.SetNativeHandler(fsPID, svc.HandleMessage)

	if err := k.Boot([]kernel.Image{{Name: "fs-client", ELF: fixtures.FSClient("hello.txt")}}); err != nil {
		return err
	}

	return report("fs", k, fw, logger)
}

// openOrBuildDisk opens diskPath if given, or synthesizes a tiny
// in-memory ustar archive (one file, "hello.txt") so the fs scenario
// has something to read without requiring cmd/diskimage to have run
// first.
func openOrBuildDisk(diskPath string) (blockdev.Device, error) {
	if diskPath != "" {
		return blockdev.OpenFile(diskPath)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	contents := []byte("hello from the filesystem service\n")
	hdr := &tar.Header{Name: "hello.txt", Size: int64(len(contents)), Mode: 0o644, Format: tar.FormatUSTAR}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("kernel: building fs scenario archive: %w", err)
	}
	if _, err := tw.Write(contents); err != nil {
		return nil, fmt.Errorf("kernel: building fs scenario archive: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("kernel: building fs scenario archive: %w", err)
	}
	return blockdev.NewMemoryFromImage(buf.Bytes()), nil
}
