package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/LeeorNahum/FastBLEOTA"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// uploadProfile holds the transfer tuning parameters loaded from a yaml
// profile file.
type uploadProfile struct {
	ChunkSize   int  `yaml:"chunkSize"`
	AckInterval int  `yaml:"ackInterval"`
	TimeoutMs   int  `yaml:"timeoutMs"`
	SkipCRC     bool `yaml:"skipCrc"`
}

const appVersion = "0.1.0"

func main() {
	version := flag.Bool("version", false, "Prints the program version.")
	port := flag.String("port", "", "Serial port of the bridge.")
	baud := flag.Int("baud", 115200, "Baud rate.")
	verbose := flag.Bool("v", false, "Enable verbose logging.")

	// Format an empty uploadProfile struct in YAML format as an example.
	buf := new(bytes.Buffer)
	enc := yaml.NewEncoder(buf)
	enc.Encode(uploadProfile{})
	profile := flag.String("profile", "", "Transfer profile yaml file. Example:\n\n"+buf.String())

	cmdList := []string{}
	for key := range commands {
		cmdList = append(cmdList, key)
	}
	command := flag.String("cmd", "", fmt.Sprintf("Control command to send instead of uploading, one of: %+v", cmdList))

	flag.Parse()

	if *version {
		fmt.Println(appVersion)
		return
	}

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	fastbleota.SetLogger(log.StandardLogger())

	if *port == "" {
		log.Fatal("must specify port")
	}

	link, err := fastbleota.NewSerialLink(*port, *baud)
	if err != nil {
		log.Fatalf("failed to initialise link: %v", err)
	}
	if err := link.Connect(); err != nil {
		log.Fatalf("failed to open link: %v", err)
	}
	defer link.Disconnect()

	options := fastbleota.UploaderOptions{}
	if *profile != "" {
		f, err := os.ReadFile(*profile)
		if err != nil {
			log.Fatalf("failed to open profile file: %v", err)
		}
		p := new(uploadProfile)
		if err := yaml.Unmarshal(f, p); err != nil {
			log.Fatalf("failed to parse profile file: %v", err)
		}
		options.ChunkSize = p.ChunkSize
		options.AckInterval = p.AckInterval
		options.Timeout = time.Duration(p.TimeoutMs) * time.Millisecond
		options.SkipCRC = p.SkipCRC
	}

	uploader := fastbleota.NewUploader(link, options)

	if *command != "" {
		f, ok := commands[*command]
		if !ok {
			log.Fatalf("invalid command %v", *command)
		}
		f(uploader, flag.Args())
		return
	}

	// Upload a firmware image
	if len(flag.Args()) != 1 {
		log.Fatalf("must specify firmware file to upload")
	}

	firmware, err := loadImage(flag.Args()[0])
	if err != nil {
		log.Fatalf("failed to load firmware: %v", err)
	}
	log.Infof("loaded %d bytes", len(firmware))

	uploader.SetProgressHandler(func(record fastbleota.ProgressRecord) {
		log.Debugf("device: state=%v percent=%d%% received=%d/%d",
			record.State, record.Percent, record.BytesReceived, record.BytesExpected)
	})

	log.Infof("uploading...")
	if err := uploader.Upload(firmware); err != nil {
		log.Fatal(err)
	}
	log.Infof("complete, device is applying the update")
}
