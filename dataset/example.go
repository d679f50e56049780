package dataset

import (
	"fmt"
	"github.com/pkg/errors"
	"github.com/sw965/omw/encoding/jsonx"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type Example struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// LoadExamples はJSONの例の配列を読み込む。path が URL の場合はキャッシュへダウンロードしてから読み込む。
func LoadExamples(p string) ([]Example, error) {
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		local, err := cachePath(path.Base(p))
		if err != nil {
			return nil, err
		}
		if err := ensureFile(local, p); err != nil {
			return nil, errors.Wrapf(err, "dataset: download %s", p)
		}
		p = local
	}

	examples, err := jsonx.Load[[]Example](p)
	if err != nil {
		return nil, errors.Wrapf(err, "dataset: load %s", p)
	}
	return examples, nil
}

func cachePath(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("ホームディレクトリの取得に失敗: %w", err)
	}

	dataDir := filepath.Join(home, ".ganbert_dataset")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dataDir, name), nil
}

func ensureFile(path, url string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	// 途中で失敗した場合に壊れたキャッシュを残さない
	tmp := path + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
