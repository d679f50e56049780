// Command main trains the semi-supervised GAN classifier from a config file
// and JSON examples, or from the gob files written by dataset/main.
package main

import (
	"flag"
	"fmt"
	"github.com/sw965/ganbert/config"
	"github.com/sw965/ganbert/dataset"
	"github.com/sw965/ganbert/mathx/randx"
	"github.com/sw965/ganbert/model/discriminator"
	"github.com/sw965/ganbert/model/encoder"
	"github.com/sw965/ganbert/model/generator"
	"github.com/sw965/ganbert/trainer"
	"log"
	"os"
	"path/filepath"
)

func main() {
	configPath := flag.String("config", "config.json", "config file")
	trainPath := flag.String("train", "", "training examples (JSON, local path or URL)")
	valPath := flag.String("val", "", "validation examples (JSON, local path or URL)")
	prepared := flag.String("prepared", "", "directory written by dataset/main; replaces -train and -val")
	predictPath := flag.String("predict", "", "examples to label after training")
	resume := flag.String("resume", "", "checkpoint to resume from")
	epochs := flag.Int("epochs", 0, "overrides epochs in the config")
	deviceName := flag.String("device", "", "overrides device in the config")
	progress := flag.Bool("progress", true, "draw per-batch progress bars on stderr")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *epochs > 0 {
		cfg.Epochs = *epochs
	}
	if *deviceName != "" {
		cfg.Device = *deviceName
	}

	tok, train, val, err := loadData(cfg, *prepared, *trainPath, *valPath)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("語彙数: %d, 訓練: %d 例 (ラベル付き %d), 検証: %d 例", tok.VocabSize(), train.Len(), train.LabeledCount(), val.Len())

	rng := randx.NewMt19937(cfg.Seed)
	enc := encoder.New(tok.VocabSize(), cfg.MaxSeqLen, cfg.HiddenSize, cfg.Dropout, rng)
	gen := generator.New(cfg.GeneratorNoiseSize, cfg.GeneratorHiddenSize, cfg.HiddenSize, cfg.Dropout, rng)
	disc := discriminator.New(cfg.HiddenSize, cfg.DiscriminatorHiddenSize, cfg.NumLabels(), cfg.Dropout, rng)

	opts := []trainer.Option{}
	if *progress {
		opts = append(opts, trainer.WithProgress(os.Stderr))
	}
	tr, err := trainer.New(cfg, enc, gen, disc, opts...)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("run %s on %s", tr.RunID(), tr.Device())

	if *resume != "" {
		ckpt, err := trainer.LoadCheckpoint(*resume)
		if err != nil {
			log.Fatal(err)
		}
		if err := tr.Restore(ckpt); err != nil {
			log.Fatal(err)
		}
		log.Printf("エポック %d から再開します", tr.NextEpoch())
	}

	if err := tr.SetTrainDataloader(train); err != nil {
		log.Fatal(err)
	}
	if err := tr.SetValDataloader(val); err != nil {
		log.Fatal(err)
	}
	if err := tr.Train(cfg.Epochs); err != nil {
		log.Fatal(err)
	}

	if *predictPath != "" {
		if err := predict(tr, tok, *predictPath); err != nil {
			log.Fatal(err)
		}
	}
}

func loadData(cfg config.Config, prepared, trainPath, valPath string) (*dataset.Tokenizer, *dataset.Dataset, *dataset.Dataset, error) {
	if prepared != "" {
		tok, err := dataset.LoadTokenizer(filepath.Join(prepared, "tokenizer.gob"))
		if err != nil {
			return nil, nil, nil, err
		}
		train, err := dataset.Load(filepath.Join(prepared, "train.gob"))
		if err != nil {
			return nil, nil, nil, err
		}
		val, err := dataset.Load(filepath.Join(prepared, "val.gob"))
		if err != nil {
			return nil, nil, nil, err
		}
		return tok, train, val, nil
	}

	if trainPath == "" || valPath == "" {
		return nil, nil, nil, fmt.Errorf("either -prepared or both -train and -val are required")
	}
	trainExamples, err := dataset.LoadExamples(trainPath)
	if err != nil {
		return nil, nil, nil, err
	}
	valExamples, err := dataset.LoadExamples(valPath)
	if err != nil {
		return nil, nil, nil, err
	}

	texts := make([]string, len(trainExamples))
	for i, e := range trainExamples {
		texts[i] = e.Text
	}
	tok := dataset.NewTokenizer(texts, cfg.MaxSeqLen, 1)
	train, err := dataset.Encode(trainExamples, tok, cfg.LabelList, cfg.UnlabeledLabel)
	if err != nil {
		return nil, nil, nil, err
	}
	val, err := dataset.Encode(valExamples, tok, cfg.LabelList, cfg.UnlabeledLabel)
	if err != nil {
		return nil, nil, nil, err
	}
	return tok, train, val, nil
}

func predict(tr *trainer.Trainer, tok *dataset.Tokenizer, path string) error {
	cfg := tr.Config()
	examples, err := dataset.LoadExamples(path)
	if err != nil {
		return err
	}
	texts := make([]string, len(examples))
	for i, e := range examples {
		texts[i] = e.Text
	}
	loader, err := dataset.NewDataLoader(dataset.EncodeTexts(texts, tok), cfg.ValBatchSize, false, nil)
	if err != nil {
		return err
	}
	summary, err := tr.Predict(loader)
	if err != nil {
		return err
	}
	fakeCol := cfg.NumLabels()
	for i, pred := range summary.Extras.Predictions {
		pFake := summary.Extras.Probs.Data[i*summary.Extras.Probs.Stride+fakeCol]
		fmt.Printf("%s\t%s\tp_fake=%.4f\n", cfg.LabelList[pred], texts[i], pFake)
	}
	return nil
}
