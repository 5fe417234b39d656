package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/LeeorNahum/FastBLEOTA"
	"github.com/marcinbor85/gohex"
	log "github.com/sirupsen/logrus"
)

var commands = map[string]func(*fastbleota.Uploader, []string){
	"abort":  processAbort,
	"reset":  processReset,
	"apply":  processApply,
	"status": processStatus,
}

func processAbort(uploader *fastbleota.Uploader, args []string) {
	if err := uploader.Abort(); err != nil {
		log.Fatalf("failed to abort: %v", err)
	}
}

func processReset(uploader *fastbleota.Uploader, args []string) {
	if err := uploader.Reset(); err != nil {
		log.Fatalf("failed to reset: %v", err)
	}
}

func processApply(uploader *fastbleota.Uploader, args []string) {
	if err := uploader.Apply(); err != nil {
		log.Fatalf("failed to apply: %v", err)
	}
}

func processStatus(uploader *fastbleota.Uploader, args []string) {
	record, err := uploader.Status()
	if err != nil {
		log.Fatalf("failed to read status: %v", err)
	}
	log.Infof("state: %v", record.State)
	log.Infof("error: %v", record.Error)
	log.Infof("progress: %d%% (%d/%d bytes)", record.Percent, record.BytesReceived, record.BytesExpected)
	log.Infof("crc: 0x%08X", record.CRC)
}

// loadImage reads a firmware image. Intel HEX files are flattened into a
// single contiguous binary starting at the lowest programmed address, gaps
// filled with the flash erase value; anything else is read as raw binary.
func loadImage(fileName string) ([]byte, error) {
	if strings.ToLower(filepath.Ext(fileName)) != ".hex" {
		return os.ReadFile(fileName)
	}

	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(file); err != nil {
		return nil, err
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, nil
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Address < segments[j].Address
	})

	base := segments[0].Address
	last := segments[len(segments)-1]
	image := make([]byte, last.Address+uint32(len(last.Data))-base)
	for i := range image {
		image[i] = 0xFF
	}
	for _, segment := range segments {
		copy(image[segment.Address-base:], segment.Data)
		log.Debugf("loaded segment at %X length %v", segment.Address, len(segment.Data))
	}
	return image, nil
}
