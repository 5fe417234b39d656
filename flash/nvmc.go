//go:build tinygo || baremetal

package flash

import (
	"unsafe"

	"device/arm"
	"device/nrf"
)

// NVMC implements Device against the nRF52 non-volatile memory controller
// registers. Flash geometry is read from the FICR at construction; the
// application start address depends on the SoftDevice in use and is supplied
// by the caller (it is the address the linker placed the vector table at).
type NVMC struct {
	pageSize uint32
	size     uint32
	appStart uint32
}

// NewNVMC reads the flash geometry from the factory information registers.
func NewNVMC(appStart uint32) *NVMC {
	pageSize := nrf.FICR.CODEPAGESIZE.Get()
	return &NVMC{
		pageSize: pageSize,
		size:     pageSize * nrf.FICR.CODESIZE.Get(),
		appStart: appStart,
	}
}

func (d *NVMC) PageSize() uint32 { return d.pageSize }
func (d *NVMC) Size() uint32     { return d.size }
func (d *NVMC) AppStart() uint32 { return d.appStart }
func (d *NVMC) Name() string     { return "nRF52" }

func waitReady() {
	for nrf.NVMC.READY.Get() == nrf.NVMC_READY_READY_Busy {
	}
}

func (d *NVMC) ErasePage(addr uint32) {
	nrf.NVMC.CONFIG.Set(nrf.NVMC_CONFIG_WEN_Een << nrf.NVMC_CONFIG_WEN_Pos)
	waitReady()
	nrf.NVMC.ERASEPAGE.Set(addr)
	waitReady()
	nrf.NVMC.CONFIG.Set(nrf.NVMC_CONFIG_WEN_Ren << nrf.NVMC_CONFIG_WEN_Pos)
	waitReady()
}

func (d *NVMC) WriteWord(addr uint32, value uint32) {
	nrf.NVMC.CONFIG.Set(nrf.NVMC_CONFIG_WEN_Wen << nrf.NVMC_CONFIG_WEN_Pos)
	waitReady()
	*(*uint32)(unsafe.Pointer(uintptr(addr))) = value
	waitReady()
	nrf.NVMC.CONFIG.Set(nrf.NVMC_CONFIG_WEN_Ren << nrf.NVMC_CONFIG_WEN_Pos)
	waitReady()
}

func (d *NVMC) ReadWord(addr uint32) uint32 {
	return *(*uint32)(unsafe.Pointer(uintptr(addr)))
}

// Critical disables interrupts around fn. The copy-and-reset routine erases
// the live vector table, so nothing interrupt-driven may run until the
// device resets.
func (d *NVMC) Critical(fn func()) {
	state := arm.DisableInterrupts()
	fn()
	arm.EnableInterrupts(state)
}

func (d *NVMC) Reset() {
	arm.SystemReset()
}
