// Package nicinit puts the wireless NICs into monitor mode on the chosen
// channel. The sequence is idempotent: running it twice (without workers
// attached) leaves the same observable state.
package nicinit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/finchrf/skybridge/internal/config"
	"github.com/finchrf/skybridge/internal/logger"
)

// ExecError carries the captured output of a failed OS helper.
type ExecError struct {
	Argv   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %v", strings.Join(e.Argv, " "), e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Exec runs an OS helper, capturing output. A non-zero exit returns an
// *ExecError with stdout/stderr attached.
func Exec(ctx context.Context, name string, args ...string) error {
	_, err := execCapture(ctx, name, args...)
	return err
}

func execCapture(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		e := &ExecError{
			Argv:   append([]string{name}, args...),
			Stdout: stdout.String(),
			Stderr: stderr.String(),
			Err:    err,
		}
		if e.Stdout != "" {
			logger.Error(e.Stdout)
		}
		if e.Stderr != "" {
			logger.Error(e.Stderr)
		}
		return stdout.String(), e
	}
	return stdout.String(), nil
}

// HTMode translates a channel bandwidth in MHz to the iw HT-mode string.
func HTMode(maxBW int) (string, error) {
	switch maxBW {
	case 10:
		return "10MHz", nil
	case 20:
		return "HT20", nil
	case 40:
		return "HT40+", nil
	case 80:
		return "80MHz", nil
	case 160:
		return "160MHz", nil
	default:
		return "", fmt.Errorf("unsupported bandwidth %d MHz", maxBW)
	}
}

// Init configures every NIC for monitor-mode operation. With the secondary
// role the whole sequence is skipped (the primary side owns the cards).
func Init(ctx context.Context, common *config.Common, wlans []string, maxBW int) error {
	htMode, err := HTMode(maxBW)
	if err != nil {
		return err
	}

	if !common.Primary {
		logger.Info("skip card init due to secondary role")
		return nil
	}

	if err := Exec(ctx, "iw", "reg", "set", common.WifiRegion); err != nil {
		return err
	}

	for _, wlan := range wlans {
		if common.SetNMUnmanaged {
			if err := nmUnmanage(ctx, wlan); err != nil {
				return err
			}
		}

		if err := Exec(ctx, "ip", "link", "set", wlan, "down"); err != nil {
			return err
		}
		if err := Exec(ctx, "iw", "dev", wlan, "set", "monitor", "otherbss"); err != nil {
			return err
		}
		if err := Exec(ctx, "ip", "link", "set", wlan, "up"); err != nil {
			return err
		}

		channel, err := common.WifiChannel.For(wlan)
		if err != nil {
			return err
		}
		if err := Exec(ctx, "iw", "dev", wlan, "set", "channel", fmt.Sprint(channel), htMode); err != nil {
			return err
		}

		if common.WifiTxPower != 0 {
			if err := Exec(ctx, "iw", "dev", wlan, "set", "txpower", "fixed", fmt.Sprint(common.WifiTxPower)); err != nil {
				return err
			}
		}
	}
	return nil
}

// nmUnmanage takes the device away from NetworkManager when the nmcli
// binary is present.
func nmUnmanage(ctx context.Context, wlan string) error {
	if _, err := os.Stat("/usr/bin/nmcli"); err != nil {
		return nil
	}
	status, err := execCapture(ctx, "nmcli", "device", "show", wlan)
	if err != nil {
		return err
	}
	if strings.Contains(status, "(unmanaged)") {
		return nil
	}
	logger.Info("switch device to unmanaged state", "wlan", wlan)
	if err := Exec(ctx, "nmcli", "device", "set", wlan, "managed", "no"); err != nil {
		return err
	}
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
