package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/evsdk/pkg/algoconf"
	"github.com/cyclopcam/evsdk/pkg/ji"
	"github.com/cyclopcam/evsdk/pkg/nnload"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("evpredict", "Run the detection pipeline on an image, and print the event")
	input := parser.String("i", "input", &argparse.Options{Help: "Input image (JPEG or PNG)", Required: true})
	output := parser.String("o", "output", &argparse.Options{Help: "Annotated output image (JPEG)", Required: false, Default: ""})
	args := parser.String("a", "args", &argparse.Options{Help: `Request arguments, eg {"roi": ["POLYGON((0.1 0.1, 0.9 0.1, 0.9 0.9, 0.1 0.9))"]}`, Required: false, Default: ""})
	configFile := parser.String("c", "config", &argparse.Options{Help: "Algorithm config file", Required: false, Default: algoconf.DefaultConfigFile})
	modelFile := parser.String("m", "model", &argparse.Options{Help: "Model config file (JSON)", Required: false, Default: ""})
	encryptedFile := parser.String("e", "encrypted", &argparse.Options{Help: "Encrypted model config, produced by evcrypt. Used instead of --model", Required: false, Default: ""})
	key := parser.String("k", "key", &argparse.Options{Help: "Passphrase for --encrypted", Required: false, Default: ""})
	weightsFile := parser.String("w", "weights", &argparse.Options{Help: "Model weights file", Required: true})
	classFile := parser.String("l", "classes", &argparse.Options{Help: "Class names file, one per line", Required: false, Default: ""})
	repeat := parser.Int("n", "repeat", &argparse.Options{Help: "Process the image this many times, and print timing statistics", Required: false, Default: 1})
	err := parser.Parse(os.Args)
	if err == nil && *modelFile == "" && *encryptedFile == "" {
		err = fmt.Errorf("Either --model or --encrypted must be specified")
	}
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, _ := logs.NewLog()

	files := nnload.ModelFiles{
		ConfigFile:  *modelFile,
		WeightsFile: *weightsFile,
		ClassFile:   *classFile,
		Key:         *key,
	}
	if *encryptedFile != "" {
		files.EncryptedConfig, err = os.ReadFile(*encryptedFile)
		check(err)
	}

	sdk, err := ji.NewSDK(logger, ji.Options{
		ConfigFile: *configFile,
		Model:      files,
	})
	check(err)
	if status := sdk.Init(nil); status != ji.StatusSucceed {
		fmt.Printf("Init failed: %v\n", status)
		os.Exit(1)
	}
	predictor, err := sdk.CreatePredictor()
	check(err)
	defer sdk.DestroyPredictor(predictor)

	var ev ji.Event
	status := ji.StatusSucceed
	for i := 0; i < max(*repeat, 1) && status == ji.StatusSucceed; i++ {
		ev, status = sdk.CalcFile(predictor, *input, *args, *output)
	}
	if status != ji.StatusSucceed {
		fmt.Printf("Processing failed: %v\n", status)
		os.Exit(1)
	}
	fmt.Printf("code: %v\n%v\n", ev.Code, string(ev.JSON))
	if *repeat > 1 {
		stats := predictor.Stats()
		fmt.Printf("%v\n", stats.String())
	}
}
