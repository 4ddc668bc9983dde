package usage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "dealflow/config"
	"dealflow/logger"
)

// parquetRecord is the archive row shape written to S3 for billing.
type parquetRecord struct {
	ID        string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Provider  string  `parquet:"name=provider, type=BYTE_ARRAY, convertedtype=UTF8"`
	Endpoint  string  `parquet:"name=endpoint, type=BYTE_ARRAY, convertedtype=UTF8"`
	Params    string  `parquet:"name=params, type=BYTE_ARRAY, convertedtype=UTF8"`
	LatencyMs float64 `parquet:"name=latency_ms, type=DOUBLE"`
	Success   bool    `parquet:"name=success, type=BOOLEAN"`
	Cached    bool    `parquet:"name=cached, type=BOOLEAN"`
	Cost      float64 `parquet:"name=cost, type=DOUBLE"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
}

// s3Archiver batches usage records and uploads them to S3 as snappy
// parquet files, partitioned by date.
type s3Archiver struct {
	config    *appconfig.Config
	s3Client  *s3.Client
	bucket    string
	prefix    string
	batchSize int

	mu      sync.Mutex
	pending []parquetRecord
	log     *logger.Log
}

func newS3Archiver(cfg *appconfig.Config) (*s3Archiver, error) {
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Usage.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Usage.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	batchSize := cfg.Usage.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	return &s3Archiver{
		config:    cfg,
		s3Client:  s3.NewFromConfig(awsCfg),
		bucket:    cfg.Usage.Bucket,
		prefix:    strings.Trim(cfg.Usage.Prefix, "/"),
		batchSize: batchSize,
		log:       logger.GetLogger(),
	}, nil
}

func (a *s3Archiver) add(rec Record) {
	row := parquetRecord{
		ID:        rec.ID,
		Provider:  rec.Provider,
		Endpoint:  rec.Endpoint,
		Params:    rec.Params,
		LatencyMs: float64(rec.Latency.Nanoseconds()) / 1e6,
		Success:   rec.Success,
		Cached:    rec.Cached,
		Cost:      rec.EstimatedCost,
		Timestamp: rec.Timestamp.UnixMilli(),
	}

	a.mu.Lock()
	a.pending = append(a.pending, row)
	full := len(a.pending) >= a.batchSize
	a.mu.Unlock()

	if full {
		a.flush(context.Background())
	}
}

// flush uploads the pending rows as one parquet object. Failed uploads put
// the rows back so the next flush retries them.
func (a *s3Archiver) flush(ctx context.Context) {
	a.mu.Lock()
	rows := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(rows) == 0 {
		return
	}

	log := a.log.WithComponent("usage_archiver").WithFields(logger.Fields{"rows": len(rows)})

	data, err := a.createParquetFile(rows)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	key := a.objectKey(time.Now().UTC())
	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		log.WithError(err).Error("failed to upload usage archive")
		a.mu.Lock()
		a.pending = append(rows, a.pending...)
		a.mu.Unlock()
		return
	}

	log.WithFields(logger.Fields{"key": key, "bytes": len(data)}).Info("usage archive uploaded")
}

func (a *s3Archiver) objectKey(now time.Time) string {
	name := fmt.Sprintf("usage_%s_%s.parquet", now.Format("20060102T150405"), uuid.NewString()[:8])
	if a.prefix == "" {
		return fmt.Sprintf("date=%s/%s", now.Format("2006-01-02"), name)
	}
	return fmt.Sprintf("%s/date=%s/%s", a.prefix, now.Format("2006-01-02"), name)
}

func (a *s3Archiver) createParquetFile(rows []parquetRecord) ([]byte, error) {
	mfw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(mfw, new(parquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet file: %w", err)
	}

	return mfw.buffer.Bytes(), nil
}

// memoryFileWriter implements the ParquetFile interface for in-memory
// writing; the archive never touches local disk.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return 0, nil
}

func (mfw *memoryFileWriter) Read(p []byte) (int, error) {
	return mfw.buffer.Read(p)
}

func (mfw *memoryFileWriter) Write(p []byte) (int, error) {
	return mfw.buffer.Write(p)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}
