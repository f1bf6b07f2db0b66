package ruleset

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/log"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/xerrors"
)

// SSMAPI is the subset of the SSM client the loader uses.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// S3API is the subset of the S3 client the loader uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type LoaderOptions struct {
	Logger log.Logger

	// SSM parameter holding the sha256 of the current rule set
	SSMParam string

	// rule sets live at s3://{bucket}/{prefix}/{sha256}.toml
	S3Bucket string
	S3Prefix string

	// Verifier, when set, requires a detached {sha256}.toml.sig next to
	// each document.
	Verifier cryptoutil.Verifier

	CacheSize int

	// clients default to ones built from AWSConfig or the default chain
	SSMClient SSMAPI
	S3Client  S3API
	AWSConfig *aws.Config
}

// Loader fetches published rule sets from S3, pinned by a hash in SSM.
type Loader struct {
	opts   LoaderOptions
	ssm    SSMAPI
	s3     S3API
	logger log.Logger
}

func NewLoader(ctx context.Context, opts LoaderOptions) (*Loader, error) {
	if opts.SSMParam == "" {
		return nil, xerrors.New("SSMParam is required")
	}
	if opts.S3Bucket == "" {
		return nil, xerrors.New("S3Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	ssmClient, s3Client := opts.SSMClient, opts.S3Client
	if ssmClient == nil || s3Client == nil {
		var awsCfg aws.Config
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			var err error
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "load AWS config")
			}
		}
		if ssmClient == nil {
			ssmClient = ssm.NewFromConfig(awsCfg)
		}
		if s3Client == nil {
			s3Client = s3.NewFromConfig(awsCfg)
		}
	}

	return &Loader{opts: opts, ssm: ssmClient, s3: s3Client, logger: opts.Logger}, nil
}

// FetchCurrentHash reads the pinned rule-set digest from SSM.
func (l *Loader) FetchCurrentHash(ctx context.Context) (string, error) {
	out, err := l.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}
	hash := strings.ToLower(strings.TrimSpace(*out.Parameter.Value))
	if !cryptoutil.IsSHA256Hex(hash) {
		return "", xerrors.Newf("SSM parameter %s is not a sha256 digest", l.opts.SSMParam)
	}
	return hash, nil
}

func (l *Loader) objectKey(hash string) string {
	return pathutil.JoinKey(l.opts.S3Prefix, hash+".toml")
}

func (l *Loader) url(key string) string {
	return fmt.Sprintf("s3://%s/%s", l.opts.S3Bucket, key)
}

func (l *Loader) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := l.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get S3 object %s", l.url(key))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read S3 object %s", l.url(key))
	}
	if len(data) > maxDocumentBytes {
		return nil, xerrors.Newf("S3 object %s exceeds %d bytes", l.url(key), maxDocumentBytes)
	}
	return data, nil
}

// LoadHash downloads the rule set published under hash, checks its digest
// and signature, and compiles it.
func (l *Loader) LoadHash(ctx context.Context, hash string) (*Set, error) {
	if !cryptoutil.IsSHA256Hex(hash) {
		return nil, xerrors.Newf("invalid rule set hash %q", hash)
	}
	key := l.objectKey(hash)
	l.logger.Info(ctx, "downloading rule set", "bucket", l.opts.S3Bucket, "key", key)

	data, err := l.getObject(ctx, key)
	if err != nil {
		return nil, err
	}

	// always compare digests in constant time
	if actual := cryptoutil.SHA256Hex(data); !cryptoutil.HashEqual(actual, hash) {
		return nil, xerrors.Newf("checksum mismatch for %s: expected %s, got %s", l.url(key), hash, actual)
	}

	signed := false
	if l.opts.Verifier != nil {
		raw, err := l.getObject(ctx, key+".sig")
		if err != nil {
			return nil, xerrors.Wrap(err, "fetch rule set signature")
		}
		sig, err := cryptoutil.DecodeSignature(raw)
		if err != nil {
			return nil, err
		}
		if err := l.opts.Verifier.VerifySignature(ctx, data, sig); err != nil {
			return nil, xerrors.Wrapf(err, "verify rule set signature for %s", l.url(key))
		}
		signed = true
	}

	s, err := Parse(data,
		WithCacheSize(l.opts.CacheSize),
		WithMeta(Meta{
			SHA256:   hash,
			Source:   SourceS3,
			Origin:   l.url(key),
			Signed:   signed,
			LoadedAt: time.Now().UTC(),
		}),
	)
	if err != nil {
		return nil, xerrors.Wrapf(err, "parse rule set %s", l.url(key))
	}

	l.logger.Info(ctx, "loaded rule set",
		"sha256", hash,
		"version", s.Meta.Version,
		"families", len(s.Document.Families),
		"signed", signed,
	)
	return s, nil
}

// Load fetches the currently pinned rule set.
func (l *Loader) Load(ctx context.Context) (*Set, error) {
	hash, err := l.FetchCurrentHash(ctx)
	if err != nil {
		return nil, err
	}
	return l.LoadHash(ctx, hash)
}

// LoadIntoManager loads the pinned rule set and makes it active.
func (l *Loader) LoadIntoManager(ctx context.Context, mgr *Manager) error {
	s, err := l.Load(ctx)
	if err != nil {
		return err
	}
	mgr.Set(s)
	return nil
}
