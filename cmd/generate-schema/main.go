package main

import (
	"flag"
	"os"

	"github.com/m-lab/go/cloud/bqx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/speedtest/pkg/model"

	"cloud.google.com/go/bigquery"
)

var resultSchema string

func init() {
	flag.StringVar(&resultSchema, "speedtest", "/var/spool/datatypes/speedtest.json", "filename to write the speedtest result schema")
}

// schema returns the BigQuery JSON schema of model.Result.
func schema() ([]byte, error) {
	sch, err := bigquery.InferSchema(model.Result{})
	if err != nil {
		return nil, err
	}
	sch = bqx.RemoveRequired(sch)
	return sch.ToJSONFields()
}

func main() {
	flag.Parse()
	// Generate and save the schema for autoloading.
	b, err := schema()
	rtx.Must(err, "failed to generate speedtest schema")
	err = os.WriteFile(resultSchema, b, 0o644)
	rtx.Must(err, "failed to write speedtest schema")
}
