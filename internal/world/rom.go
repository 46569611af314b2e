// NES ROM validation and catalog resolution. The emulator itself stays
// an external collaborator; this is only the catalog/validation
// contract for NES-backed scenarios. No command handler calls it: none
// of the registered scenarios is NES-backed.
package world

import (
	"fmt"
	"os"
	"path/filepath"
)

// NesRomStatus is the outcome of inspecting a candidate ROM file.
type NesRomStatus string

const (
	NesRomOK          NesRomStatus = "ok"
	NesRomMissing     NesRomStatus = "missing"
	NesRomBadHeader   NesRomStatus = "bad_header"
	NesRomUnsupported NesRomStatus = "unsupported_mapper"
)

// NesRomCheckResult is the outcome of NesRomCheck: a status plus the
// header's mapper and bank counts.
type NesRomCheckResult struct {
	Status   NesRomStatus
	Mapper   int
	PrgBanks int
	ChrBanks int
	Message  string
}

const nesHeaderMagic = "NES\x1a"

// NesRomCheck inspects the iNES header of romPath without loading a
// full emulator, reporting mapper/bank counts good enough to validate a
// scenario can run.
func NesRomCheck(romPath string) (NesRomCheckResult, error) {
	f, err := os.Open(romPath)
	if err != nil {
		if os.IsNotExist(err) {
			return NesRomCheckResult{Status: NesRomMissing, Message: err.Error()}, nil
		}
		return NesRomCheckResult{}, fmt.Errorf("world: open rom %s: %w", romPath, err)
	}
	defer f.Close()

	header := make([]byte, 16)
	n, err := f.Read(header)
	if err != nil || n < 16 {
		return NesRomCheckResult{Status: NesRomBadHeader, Message: "truncated iNES header"}, nil
	}
	if string(header[:4]) != nesHeaderMagic {
		return NesRomCheckResult{Status: NesRomBadHeader, Message: "missing iNES magic"}, nil
	}

	prgBanks := int(header[4])
	chrBanks := int(header[5])
	mapper := int(header[6]>>4) | int(header[7]&0xF0)

	// Only mappers 0 (NROM) and 1 (MMC1) are known-good; anything
	// else is reported but not treated as a hard failure, since this
	// is a validation/diagnostic seam rather than a compat matrix.
	status := NesRomOK
	if mapper != 0 && mapper != 1 {
		status = NesRomUnsupported
	}

	return NesRomCheckResult{
		Status:   status,
		Mapper:   mapper,
		PrgBanks: prgBanks,
		ChrBanks: chrBanks,
		Message:  fmt.Sprintf("mapper %d, %d PRG bank(s), %d CHR bank(s)", mapper, prgBanks, chrBanks),
	}, nil
}

// ResolveRom mirrors the original's catalog lookup: a pure function
// over (romID, directory, romPath) returning a resolved path or a
// diagnostic error. romPath, if
// non-empty, is used verbatim (an explicit override); otherwise romID
// is looked up as "<directory>/<romID>.nes".
func ResolveRom(romID, directory, romPath string) (string, error) {
	if romPath != "" {
		return romPath, nil
	}
	if romID == "" {
		return "", fmt.Errorf("world: rom catalog lookup requires romID or romPath")
	}
	if directory == "" {
		return "", fmt.Errorf("world: rom catalog lookup requires a directory for romID %q", romID)
	}
	return filepath.Join(directory, romID+".nes"), nil
}
