package store

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"
)

// Influx is a Table in an InfluxDB 2 bucket. Rows become points of the
// mqtt measurement, tagged by topic and client id.
// Every commit is one blocking write.
type Influx struct {
	client  influxdb2.Client
	writer  api.WriteAPIBlocking
	timeout time.Duration
	seq     sequencer
}

// OpenInflux connects to url and checks the server is healthy.
func OpenInflux(url, token, org, bucket string, timeout time.Duration) (*Influx, error) {
	client := influxdb2.NewClient(url, token)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ok, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "influxdb ping")
	}
	if !ok {
		client.Close()
		return nil, errors.New("influxdb server not healthy")
	}

	return &Influx{
		client:  client,
		writer:  client.WriteAPIBlocking(org, bucket),
		timeout: timeout,
	}, nil
}

func (s *Influx) NewLog() (Log, error) {
	return newBufferedLog(&s.seq, s.write), nil
}

func (s *Influx) write(recs []Record) error {
	points := make([]*write.Point, len(recs))
	for i := range recs {
		points[i] = recordPoint(&recs[i])
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.writer.WritePoint(ctx, points...)
}

func recordPoint(r *Record) *write.Point {
	tags := map[string]string{
		"topic":    r.Topic,
		"clientId": r.ClientID,
	}
	fields := map[string]interface{}{
		"qos":    int64(r.QoS),
		"retain": r.Retain,
	}
	if r.PayloadBinary != nil {
		fields["payloadBinary"] = string(r.PayloadBinary)
	}
	if r.PayloadVarchar != nil {
		fields["payloadVarchar"] = string(r.PayloadVarchar)
	}
	return write.NewPoint(TableName, tags, fields, time.UnixMicro(r.Timestamp))
}

func (s *Influx) Close() error {
	s.client.Close()
	return nil
}
