package verify

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var exportHeader = []string{"region_code", "region_name", "year", "value", "gender", "nationality", "age_group", "notes"}

// ExportCSV writes every fact of the indicator as CSV and returns the number
// of data rows written.
func (v *Verifier) ExportCSV(ctx context.Context, w io.Writer, indicatorID int64) (int, error) {
	conn, err := v.cfg.DB.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT g.region_code, g.region_name, t.year, f.value, f.gender, f.nationality, f.age_group, f.notes
		FROM fact_demographics f
		JOIN dim_geography g ON g.geo_id = f.geo_id
		JOIN dim_time t ON t.time_id = f.time_id
		WHERE f.indicator_id = $1
		ORDER BY g.region_code, t.year, f.gender, f.nationality, f.age_group`, indicatorID)
	if err != nil {
		return 0, fmt.Errorf("failed to query facts: %w", err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, err
	}
	n := 0
	for rows.Next() {
		var (
			code, name, gender, nationality, ageGroup, notes string
			year                                             int
			value                                            sql.NullFloat64
		)
		if err := rows.Scan(&code, &name, &year, &value, &gender, &nationality, &ageGroup, &notes); err != nil {
			return n, fmt.Errorf("failed to scan fact: %w", err)
		}
		formatted := ""
		if value.Valid {
			formatted = strconv.FormatFloat(value.Float64, 'f', -1, 64)
		}
		if err := cw.Write([]string{code, name, strconv.Itoa(year), formatted, gender, nationality, ageGroup, notes}); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("failed to read facts: %w", err)
	}
	cw.Flush()
	return n, cw.Error()
}

// Uploader is the subset of the S3 client used for exports.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Config struct {
	Region string
	// Endpoint selects an S3 compatible service such as MinIO. Path-style
	// addressing is used when set.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds an S3 client from cfg and the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Exporter writes indicator CSV exports to a local path or an s3:// URI.
type Exporter struct {
	verifier *Verifier
	uploader Uploader
}

// NewExporter returns an exporter. uploader may be nil when only local
// destinations are used.
func NewExporter(v *Verifier, uploader Uploader) *Exporter {
	return &Exporter{verifier: v, uploader: uploader}
}

// Export writes the indicator's facts to dest and returns the final location.
// A directory destination (existing, or ending in "/") receives <code>.csv.
func (e *Exporter) Export(ctx context.Context, indicatorID int64, code, dest string) (string, error) {
	if dest == "" {
		return "", errors.New("export destination is required")
	}

	if strings.HasPrefix(dest, "s3://") {
		return e.exportS3(ctx, indicatorID, code, dest)
	}

	target := dest
	if strings.HasSuffix(dest, "/") || isDir(dest) {
		target = filepath.Join(dest, code+".csv")
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	n, err := e.verifier.ExportCSV(ctx, f, indicatorID)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	e.verifier.log.Info("verify: exported indicator", "indicator", code, "rows", n, "path", target)
	return target, nil
}

func (e *Exporter) exportS3(ctx context.Context, indicatorID int64, code, dest string) (string, error) {
	if e.uploader == nil {
		return "", errors.New("s3 destination requires an s3 client")
	}
	u, err := url.Parse(dest)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid s3 destination %q", dest)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		key = path.Join(key, code+".csv")
	}

	var buf bytes.Buffer
	n, err := e.verifier.ExportCSV(ctx, &buf, indicatorID)
	if err != nil {
		return "", err
	}
	_, err = e.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.Host),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload s3://%s/%s: %w", u.Host, key, err)
	}
	location := "s3://" + u.Host + "/" + key
	e.verifier.log.Info("verify: exported indicator", "indicator", code, "rows", n, "location", location)
	return location, nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
