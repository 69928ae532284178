package adapter

import (
	"context"
	"errors"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/elicit/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// TurnRecorder keeps a log of processed workflow turns
type TurnRecorder interface {
	Record(ctx context.Context, record *model.TurnRecord) error
	Close() error
}

type bigqueryRecorder struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// NewBigQueryRecorder streams turn records into a BigQuery table, creating the table with
// TurnRecordSchema when it does not exist. The dataset must exist.
func NewBigQueryRecorder(ctx context.Context, projectID, dataset, table string, opts ...option.ClientOption) (TurnRecorder, error) {
	if dataset == "" || table == "" {
		return nil, goerr.New("dataset and table are required",
			goerr.V("dataset", dataset), goerr.V("table", table))
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client", goerr.V("project_id", projectID))
	}

	x := &bigqueryRecorder{
		client:  client,
		dataset: dataset,
		table:   table,
	}
	if err := x.ensureTable(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return x, nil
}

func (x *bigqueryRecorder) ensureTable(ctx context.Context) error {
	tbl := x.client.Dataset(x.dataset).Table(x.table)

	_, err := tbl.Metadata(ctx)
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return goerr.Wrap(err, "failed to get turn table metadata",
			goerr.V("dataset", x.dataset), goerr.V("table", x.table))
	}

	schema, err := TurnRecordSchema()
	if err != nil {
		return err
	}
	if err := tbl.Create(ctx, &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "created_at",
		},
	}); err != nil {
		return goerr.Wrap(err, "failed to create turn table",
			goerr.V("dataset", x.dataset), goerr.V("table", x.table))
	}

	logging.From(ctx).Info("turn table created", "dataset", x.dataset, "table", x.table)
	return nil
}

func (x *bigqueryRecorder) Close() error {
	if err := x.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close BigQuery client")
	}
	return nil
}

func (x *bigqueryRecorder) Record(ctx context.Context, record *model.TurnRecord) error {
	inserter := x.client.Dataset(x.dataset).Table(x.table).Inserter()
	if err := inserter.Put(ctx, record); err != nil {
		return goerr.Wrap(err, "failed to insert turn record",
			goerr.V("dataset", x.dataset), goerr.V("table", x.table), goerr.V("turn_id", record.ID))
	}
	return nil
}

// TurnRecordSchema is the table schema expected by the recorder
func TurnRecordSchema() (bigquery.Schema, error) {
	schema, err := bigquery.InferSchema(model.TurnRecord{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to infer turn record schema")
	}
	return schema, nil
}
