package uploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"mediabot/pkg/notify"
	"mediabot/pkg/progress"
)

// Mode selects where finished files go.
const (
	ModeChat = "chat"
	ModeS3   = "s3"
)

// StorageConfig holds the S3-compatible target settings.
type StorageConfig struct {
	Bucket      string
	Prefix      string
	Region      string
	EndpointURL string
	AccessKey   string
	SecretKey   string
}

// Uploader delivers finished files either to the requesting chat or to
// object storage, reporting byte progress per file.
type Uploader struct {
	cfg       StorageConfig
	client    *s3.Client
	messenger notify.Messenger
	log       *zap.Logger
}

// New builds an uploader. The S3 client is only constructed when the
// storage config names a bucket; chat-only deployments skip it entirely.
func New(ctx context.Context, cfg StorageConfig, messenger notify.Messenger, log *zap.Logger) (*Uploader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	u := &Uploader{cfg: cfg, messenger: messenger, log: log}
	if cfg.Bucket == "" {
		return u, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	u.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})
	return u, nil
}

// UploadFiles delivers files according to mode and returns the resulting
// links (S3 object URLs; empty for chat mode). Progress is reported per
// file with an overall i/N counter.
func (u *Uploader) UploadFiles(ctx context.Context, chatID int64, files []string, rep *progress.Reporter, mode string) ([]string, error) {
	var links []string
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return links, err
		}
		switch mode {
		case ModeS3:
			link, err := u.uploadS3(ctx, path, rep, i+1, len(files))
			if err != nil {
				return links, err
			}
			links = append(links, link)
		case ModeChat:
			if err := u.uploadChat(ctx, chatID, path, rep, i+1, len(files)); err != nil {
				return links, err
			}
		default:
			return links, fmt.Errorf("unknown upload mode %q", mode)
		}
		u.log.Info("file uploaded",
			zap.String("path", filepath.Base(path)),
			zap.String("mode", mode),
			zap.Int("file", i+1),
			zap.Int("of", len(files)))
	}
	return links, nil
}

func (u *Uploader) uploadS3(ctx context.Context, path string, rep *progress.Reporter, index, total int) (string, error) {
	if u.client == nil {
		return "", fmt.Errorf("s3 upload requested but storage is not configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	key := filepath.Base(path)
	if u.cfg.Prefix != "" {
		key = strings.TrimSuffix(u.cfg.Prefix, "/") + "/" + key
	}

	body := &progressReader{
		r:     f,
		total: info.Size(),
		report: func(current, size int64) {
			rep.UpdateUpload(ctx, current, size, index, total, progress.StageUploading)
		},
	}
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return u.objectURL(key), nil
}

func (u *Uploader) uploadChat(ctx context.Context, chatID int64, path string, rep *progress.Reporter, index, total int) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	rep.UpdateUpload(ctx, 0, info.Size(), index, total, progress.StageUploading)
	if err := u.messenger.SendFile(ctx, chatID, path, filepath.Base(path)); err != nil {
		return fmt.Errorf("send %s: %w", filepath.Base(path), err)
	}
	rep.UpdateUpload(ctx, info.Size(), info.Size(), index, total, progress.StageUploading)
	return nil
}

func (u *Uploader) objectURL(key string) string {
	if u.cfg.EndpointURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(u.cfg.EndpointURL, "/"), u.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.Bucket, u.cfg.Region, key)
}

// progressReader reports cumulative bytes read through it. PutObject may
// rewind on retry; Seek resets the counter to keep percentages honest.
type progressReader struct {
	r       io.ReadSeeker
	total   int64
	current int64
	report  func(current, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.current += int64(n)
		p.report(p.current, p.total)
	}
	return n, err
}

func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.r.Seek(offset, whence)
	if err == nil {
		p.current = pos
	}
	return pos, err
}
