package espresso

import (
	"context"
	"testing"
	"time"
)

func TestAlarmServiceFiresOnDeadline(t *testing.T) {
	mem, _ := NewGuestMemory(4096, nil)
	defer mem.Close()
	core := NewCore(0, mem)
	svc := NewAlarmService([]*Core{core})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	svc.SetNextAlarm(core, time.Now().Add(20*time.Millisecond))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if core.InterruptsPending()&IntAlarm != 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected IntAlarm to be raised before the test deadline")
}

func TestAlarmServiceCancel(t *testing.T) {
	mem, _ := NewGuestMemory(4096, nil)
	defer mem.Close()
	core := NewCore(0, mem)
	svc := NewAlarmService([]*Core{core})

	svc.SetNextAlarm(core, time.Now().Add(time.Hour))
	svc.CancelAlarm(core)

	if core.NextAlarmNanos.Load() != int64(^uint64(0)>>1) {
		t.Fatal("expected CancelAlarm to reset the deadline to \"none\"")
	}
}
