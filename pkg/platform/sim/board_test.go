package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/charlie0129/watchpm/pkg/sleep"
	"github.com/charlie0129/watchpm/pkg/telemetry"
)

func TestBoardServesPMURegisters(t *testing.T) {
	b := NewBoard(Config{})
	d := telemetry.NewDevice(b, telemetry.DeviceConfig{ADCSettling: -1})

	if err := d.Configure(); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if !b.ADCEnabled() {
		t.Errorf("ADCEnabled() = false after Configure")
	}

	b.SetVoltage(3850)
	if mv, err := d.ReadRawVoltage(); err != nil || mv != 3850 {
		t.Errorf("ReadRawVoltage() = %d, %v, want 3850", mv, err)
	}

	if charging, _ := d.IsCharging(); charging {
		t.Errorf("IsCharging() = true on a fresh board")
	}
	b.SetCharging(true)
	if charging, _ := d.IsCharging(); !charging {
		t.Errorf("IsCharging() = false after SetCharging(true)")
	}

	b.SetVBUS(true)
	if vbus, _ := d.IsVBUSPresent(); !vbus {
		t.Errorf("IsVBUSPresent() = false after SetVBUS(true)")
	}

	if err := d.SetChargingEnabled(false); err != nil {
		t.Fatalf("SetChargingEnabled() error = %v", err)
	}
	if b.ChargingEnabled() {
		t.Errorf("ChargingEnabled() = true after disabling")
	}
}

func TestBoardFaultInjection(t *testing.T) {
	b := NewBoard(Config{})
	b.SetVoltage(3850)
	b.FailNext(2)

	r := telemetry.NewReader(telemetry.NewDevice(b, telemetry.DeviceConfig{}), telemetry.RetryPolicy{Attempts: 3})
	got, err := r.ReadSafe(telemetry.FieldVoltage)
	if err != nil {
		t.Fatalf("ReadSafe() error = %v", err)
	}
	if got.VoltageMV != 3850 || got.Fallbacks != 0 {
		t.Errorf("ReadSafe() = %d mV, fallbacks %s, want 3850 and none", got.VoltageMV, got.Fallbacks)
	}
	if b.TxCount() != 3 {
		t.Errorf("TxCount() = %d, want 3", b.TxCount())
	}
}

func TestBoardRejectsReadOnlyWrites(t *testing.T) {
	b := NewBoard(Config{})
	if err := b.Tx(telemetry.AddressDefault, []byte{telemetry.RegVBatH, 0xFF}, nil); err != nil {
		t.Fatalf("Tx() error = %v", err)
	}
	r := make([]byte, 2)
	_ = b.Tx(telemetry.AddressDefault, []byte{telemetry.RegVBatH}, r)
	if mv := uint16(r[0])<<8 | uint16(r[1]); mv != DefaultVoltageMV {
		t.Errorf("voltage = %d after write to read-only register, want %d", mv, DefaultVoltageMV)
	}
	if err := b.Tx(0x51, []byte{0}, r); err == nil {
		t.Errorf("Tx() to unknown address error = nil")
	}
}

func armButton(t *testing.T, b *Board) {
	t.Helper()
	if err := b.ConfigureButton(9); err != nil {
		t.Fatal(err)
	}
	if err := b.EnableWakeOnLow(9); err != nil {
		t.Fatal(err)
	}
	if err := b.EnableGPIOWakeup(); err != nil {
		t.Fatal(err)
	}
}

func waitSleeping(t *testing.T, b *Board) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !b.Sleeping() {
		if time.Now().After(deadline) {
			t.Fatalf("board never entered light sleep")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLightSleepWakesOnButton(t *testing.T) {
	b := NewBoard(Config{})
	armButton(t, b)
	if b.ButtonPin() != 9 || !b.WakeArmed(9) || b.WakeArmed(15) {
		t.Fatalf("wake arming = pin %d, 9:%v 15:%v", b.ButtonPin(), b.WakeArmed(9), b.WakeArmed(15))
	}

	type result struct {
		r   sleep.WakeReport
		err error
	}
	done := make(chan result, 1)
	go func() {
		r, err := b.LightSleep(context.Background())
		done <- result{r, err}
	}()
	waitSleeping(t, b)

	// Touch is not armed and must not wake.
	b.Touch(15, 10*time.Millisecond)
	b.Press(9, 50*time.Millisecond)

	res := <-done
	if res.err != nil {
		t.Fatalf("LightSleep() error = %v", res.err)
	}
	if res.r.Cause != sleep.CauseGPIO || res.r.GPIOMask != 1<<9 {
		t.Errorf("LightSleep() = %+v, want gpio wake on GPIO9", res.r)
	}
	if !b.ButtonPressed() {
		t.Errorf("ButtonPressed() = false while the press is held")
	}
	if b.LightSleeps() != 1 {
		t.Errorf("LightSleeps() = %d, want 1", b.LightSleeps())
	}
}

func TestLightSleepInterruptAndCancel(t *testing.T) {
	b := NewBoard(Config{})
	armButton(t, b)

	if b.Interrupt(sleep.CauseTimer) {
		t.Errorf("Interrupt() = true while awake")
	}

	done := make(chan sleep.WakeReport, 1)
	go func() {
		r, _ := b.LightSleep(context.Background())
		done <- r
	}()
	waitSleeping(t, b)
	if !b.Interrupt(sleep.CauseUART) {
		t.Errorf("Interrupt() = false while asleep")
	}
	if r := <-done; r.Cause != sleep.CauseUART {
		t.Errorf("LightSleep() cause = %v, want uart", r.Cause)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.LightSleep(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("LightSleep(canceled) error = %v, want context.Canceled", err)
	}
}

func TestLightSleepWithoutWakeSource(t *testing.T) {
	b := NewBoard(Config{})
	if _, err := b.LightSleep(context.Background()); err == nil {
		t.Errorf("LightSleep() with nothing armed error = nil")
	}
}

func TestDeepSleepCallsPowerOff(t *testing.T) {
	off := make(chan struct{}, 1)
	b := NewBoard(Config{PowerOff: func() { off <- struct{}{} }})

	returned := false
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.DeepSleep()
		returned = true
	}()
	<-done

	if returned {
		t.Errorf("DeepSleep() returned")
	}
	select {
	case <-off:
	default:
		t.Errorf("power-off hook not called")
	}
}

func TestVoltageForPercentInvertsCurve(t *testing.T) {
	for _, p := range []float64{0, 10, 25, 50, 75, 90, 100} {
		mv := voltageForPercent(p)
		if got := telemetry.PercentFromVoltage(mv); int(got) != int(p) {
			t.Errorf("PercentFromVoltage(voltageForPercent(%v)) = %d", p, got)
		}
	}
}

func TestRadio(t *testing.T) {
	r := NewRadio()
	_ = r.Suspend()
	if r.Connected() {
		t.Errorf("Connected() = true after Suspend")
	}
	_ = r.Connect()
	if r.Connected() {
		t.Errorf("Connect() succeeded while suspended")
	}
	_ = r.Resume()
	_ = r.Connect()
	if !r.Connected() {
		t.Errorf("Connected() = false after Resume and Connect")
	}
}

func TestLightSleepLevelTriggered(t *testing.T) {
	b := NewBoard(Config{})
	armButton(t, b)

	// Held down before sleep starts, as when the press lands during the
	// sleep sequence.
	b.Press(9, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	r, err := b.LightSleep(ctx)
	if err != nil {
		t.Fatalf("LightSleep() error = %v, want immediate wake", err)
	}
	if r.Cause != sleep.CauseGPIO || r.GPIOMask != 1<<9 {
		t.Errorf("LightSleep() = %+v, want gpio wake on GPIO9", r)
	}
	if b.Sleeping() {
		t.Errorf("Sleeping() = true after wake")
	}
}

func TestLightSleepNoStaleReport(t *testing.T) {
	b := NewBoard(Config{})
	armButton(t, b)

	done := make(chan sleep.WakeReport, 1)
	go func() {
		r, _ := b.LightSleep(context.Background())
		done <- r
	}()
	waitSleeping(t, b)
	if !b.Interrupt(sleep.CauseUART) {
		t.Fatalf("Interrupt() = false while asleep")
	}
	if b.Interrupt(sleep.CauseTimer) {
		t.Errorf("second Interrupt() = true, the sleep already ended")
	}
	if r := <-done; r.Cause != sleep.CauseUART {
		t.Errorf("LightSleep() cause = %v, want uart", r.Cause)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := b.LightSleep(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("next LightSleep() error = %v, want context.DeadlineExceeded", err)
	}
}
