package health

import (
	"context"
	"errors"
	"testing"
)

func TestDeviceCheckSkipsProbeWhileInUse(t *testing.T) {
	probed := false
	c := AudioInput(func() error {
		probed = true
		return errors.New("device busy")
	}, func() bool { return true })

	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check() while in use error = %v, want nil", err)
	}
	if probed {
		t.Error("probe ran while the device was legitimately held")
	}
}

func TestDeviceCheckProbesWhenIdle(t *testing.T) {
	want := errors.New("no capture device found")
	c := AudioInput(func() error { return want }, func() bool { return false })

	if err := c.Check(context.Background()); !errors.Is(err, want) {
		t.Errorf("Check() error = %v, want probe error", err)
	}
}

func TestTransportCheckerUsesContext(t *testing.T) {
	c := Transport(func(ctx context.Context) error { return ctx.Err() })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Check(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Check() error = %v, want context.Canceled", err)
	}
}
