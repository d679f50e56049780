// Command prepare tokenizes JSON examples and caches the result as gob files
// for the trainer.
package main

import (
	"flag"
	"github.com/sw965/ganbert/config"
	"github.com/sw965/ganbert/dataset"
	"github.com/sw965/ganbert/mathx/randx"
	"log"
	"os"
	"path/filepath"
)

func main() {
	configPath := flag.String("config", "config.json", "config file")
	examplesPath := flag.String("examples", "examples.json", "JSON examples (local path or URL)")
	outDir := flag.String("out", "prepared", "output directory")
	valRatio := flag.Float64("val", 0.1, "fraction of examples used for validation")
	minFreq := flag.Int("min-freq", 1, "minimum word frequency kept in the vocabulary")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込み失敗: %v", err)
	}

	log.Println("例を読み込んでいます...")
	examples, err := dataset.LoadExamples(*examplesPath)
	if err != nil {
		log.Fatalf("例の読み込み失敗: %v", err)
	}

	texts := make([]string, len(examples))
	for i, e := range examples {
		texts[i] = e.Text
	}
	tok := dataset.NewTokenizer(texts, cfg.MaxSeqLen, *minFreq)
	log.Printf("語彙数: %d", tok.VocabSize())

	ds, err := dataset.Encode(examples, tok, cfg.LabelList, cfg.UnlabeledLabel)
	if err != nil {
		log.Fatalf("トークン化失敗: %v", err)
	}
	val, train, err := ds.Split(*valRatio, randx.NewMt19937(cfg.Seed))
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("訓練: %d 例 (ラベル付き %d), 検証: %d 例", train.Len(), train.LabeledCount(), val.Len())

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatal(err)
	}
	if err := tok.Save(filepath.Join(*outDir, "tokenizer.gob")); err != nil {
		log.Fatalf("トークナイザーの保存失敗: %v", err)
	}
	if err := train.Save(filepath.Join(*outDir, "train.gob")); err != nil {
		log.Fatalf("訓練データの保存失敗: %v", err)
	}
	if err := val.Save(filepath.Join(*outDir, "val.gob")); err != nil {
		log.Fatalf("検証データの保存失敗: %v", err)
	}
	log.Println("完了")
}
