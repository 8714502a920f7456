package lib

import (
	"time"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

var processStart = time.Now()

func timeEpoch(v *vm.VM) {
	v.SetSlotNumber(0, float64(time.Now().Unix()))
}

func timeClock(v *vm.VM) {
	v.SetSlotNumber(0, time.Since(processStart).Seconds())
}

func timeSleep(v *vm.VM) {
	ms, ok := v.ValidateSlotNumber(1)
	if !ok {
		return
	}
	if ms < 0 {
		v.SetRuntimeError("Sleep time should be a positive number.")
		return
	}
	time.Sleep(time.Duration(ms * float64(time.Millisecond)))
}

var timeFunctions = []function{
	{"epoch", timeEpoch, 0, doc("time.epoch() -> Number",
		"Returns the number of seconds since the Epoch, 1970-01-01 00:00:00 +0000 (UTC).")},
	{"clock", timeClock, 0, doc("time.clock() -> Number",
		"Returns the seconds elapsed since the process started.")},
	{"sleep", timeSleep, 1, doc("time.sleep(t:Number) -> Null", "Sleeps for t milliseconds.")},
}
