package actions

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Notifier delivers a message to a device. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, ip, message string) error
}

// UDPNotifier sends the message as a single datagram to ip:Port.
type UDPNotifier struct {
	Port    int
	Timeout time.Duration
}

func (u UDPNotifier) Notify(ctx context.Context, ip, message string) error {
	addr, err := parseIP(ip)
	if err != nil {
		return err
	}
	timeout := u.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "udp", net.JoinHostPort(addr.String(), strconv.Itoa(u.Port)))
	if err != nil {
		return fmt.Errorf("dial notify %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write([]byte(message)); err != nil {
		return fmt.Errorf("send notify %s: %w", addr, err)
	}
	return nil
}

// PopupNotifier shows a message box on a Windows host through msg.exe.
type PopupNotifier struct {
	Run Runner
}

func (p PopupNotifier) Notify(ctx context.Context, ip, message string) error {
	addr, err := parseIP(ip)
	if err != nil {
		return err
	}
	run := p.Run
	if run == nil {
		run = ExecRunner
	}
	out, err := run(ctx, "", "msg", "*", "/SERVER:"+addr.String(), message)
	if err != nil {
		return fmt.Errorf("msg %s: %v: %s", addr, err, strings.TrimSpace(out))
	}
	return nil
}

// FallbackNotifier tries each notifier in order and stops at the first
// success.
type FallbackNotifier []Notifier

func (f FallbackNotifier) Notify(ctx context.Context, ip, message string) error {
	var errs []error
	for _, n := range f {
		err := n.Notify(ctx, ip, message)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NewNotifier returns the notifier chain for goos: a popup then UDP on
// Windows, UDP elsewhere.
func NewNotifier(goos string, port int, timeout time.Duration, run Runner) Notifier {
	udp := UDPNotifier{Port: port, Timeout: timeout}
	if goos == "windows" {
		return FallbackNotifier{PopupNotifier{Run: run}, udp}
	}
	return udp
}
