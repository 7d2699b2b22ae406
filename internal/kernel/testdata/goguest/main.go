// Command goguest prints the name of every actuator. It is built as a
// wasip1 reactor by the kernel tests.
package main

import rk "github.com/woxQAQ/robokernel/api/wasm"

func main() {}

//go:wasmexport run
func run() {
	actuators, err := rk.GetActuatorInfo()
	if err != nil {
		rk.Log(rk.LevelError, err.Error())
		return
	}
	for _, a := range actuators {
		rk.Print(a.Name)
	}
}
