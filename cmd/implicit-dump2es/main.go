package main

import (
	"os"
	"path/filepath"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	BulkFileExt = ".json"
)

var (
	version             = "0.0.1"
	ErrInvalidDirectory = errors.New("invalid directory")
)

func main() {
	app := &cli.App{
		Name:    "implicit-dump2es",
		Usage:   "import esbulk dumps of pg_implicit_columns_view to elasticsearch",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "es-addr",
				Value:   "http://localhost:9200",
				Aliases: []string{"e"},
				Usage:   "elasticsearch http api server `URL` address",
			},
			&cli.StringFlag{
				Name:    "dir",
				Value:   "dump",
				Aliases: []string{"d"},
				Usage:   "elasticsearch bulk data `Directory`",
			},
		},
		Action: bulk,
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func bulk(c *cli.Context) error {
	cfg := elasticsearch.Config{
		Addresses: []string{
			c.String("es-addr"),
		},
		// 429 TooManyRequests 时重试
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    10,
	}
	ec, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return errors.Wrap(err, "elasticsearch client")
	}
	dir := c.String("dir")
	s, err := os.Stat(dir)
	if err != nil || !s.IsDir() {
		return errors.Wrap(ErrInvalidDirectory, dir)
	}
	return filepath.Walk(dir, walk(ec))
}

func walk(ec *elasticsearch.Client) filepath.WalkFunc {
	return func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != BulkFileExt {
			return nil
		}
		fs, err := os.Open(path)
		if err != nil {
			return err
		}
		defer fs.Close()
		res, err := ec.Bulk(fs)
		if err != nil {
			return errors.Wrapf(err, "bulk %s", path)
		}
		defer res.Body.Close()
		if res.IsError() {
			return errors.Errorf("bulk %s: %s", path, res.Status())
		}
		logrus.WithField("file", path).Infoln("<-")
		return nil
	}
}
