package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/jrhy/statetrie"
)

type S3Interface interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	HeadObjectWithContext(ctx aws.Context, input *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error)
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// Persist implements the statetrie.Backend interface for storing and
// loading nodes as S3 objects named by Prefix and the digest.
type Persist struct {
	s3         S3Interface
	BucketName string
	Prefix     string
	l          sync.Mutex
	lru        *simplelru.LRU
}

var _ statetrie.Backend = (*Persist)(nil)

func (p *Persist) key(digest statetrie.Digest) *string {
	return aws.String(p.Prefix + digest.String())
}

// seen records that the object for digest exists.
func (p *Persist) seen(digest statetrie.Digest) {
	p.l.Lock()
	p.lru.Add(string(digest), nil)
	p.l.Unlock()
}

func (p *Persist) known(digest statetrie.Digest) bool {
	p.l.Lock()
	defer p.l.Unlock()
	_, present := p.lru.Get(string(digest))
	return present
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}

// Load loads the bytes persisted in the named object.
func (p *Persist) Load(ctx context.Context, digest statetrie.Digest) ([]byte, bool, error) {
	input := s3.GetObjectInput{
		Bucket: &p.BucketName,
		Key:    p.key(digest),
	}
	output, err := p.s3.GetObjectWithContext(ctx, &input)
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer output.Body.Close()
	b, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, false, err
	}
	p.seen(digest)
	return b, true, nil
}

func (p *Persist) Has(ctx context.Context, digest statetrie.Digest) (bool, error) {
	if p.known(digest) {
		return true, nil
	}
	input := s3.HeadObjectInput{
		Bucket: &p.BucketName,
		Key:    p.key(digest),
	}
	_, err := p.s3.HeadObjectWithContext(ctx, &input)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	p.seen(digest)
	return true, nil
}

// Store persists the given bytes in an object of the given digest, unless
// it is known to exist already.
func (p *Persist) Store(ctx context.Context, digest statetrie.Digest, b []byte) error {
	if p.known(digest) {
		return nil
	}
	input := s3.PutObjectInput{
		Bucket: &p.BucketName,
		Key:    p.key(digest),
		Body:   bytes.NewReader(b),
	}
	_, err := p.s3.PutObjectWithContext(ctx, &input)
	if err != nil {
		return err
	}
	p.seen(digest)
	return nil
}

// StoreBatch puts the nodes one at a time, in the given order, and stops at
// the first failure. Objects written before it remain, and each of them
// has its referenced nodes written already.
func (p *Persist) StoreBatch(ctx context.Context, nodes []statetrie.Node) error {
	for _, n := range nodes {
		if err := p.Store(ctx, n.Digest, n.Blob); err != nil {
			return err
		}
	}
	return nil
}

// NewPersist returns a Persist that loads and stores nodes as
// objects with the given S3 client and bucket name.
func NewPersist(client S3Interface, bucketName, prefix string) *Persist {
	lru, err := simplelru.NewLRU(1000, nil)
	if err != nil {
		panic(err)
	}
	return &Persist{s3: client, BucketName: bucketName, Prefix: prefix, lru: lru}
}
