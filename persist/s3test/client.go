// Package s3test provides an S3 client for tests: an in-process gofakes3
// server, or a real endpoint when STATETRIE_TEST_S3_ENDPOINT is set.
package s3test

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/http/httptest"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// Client returns a client, a bucket to use, and a function that empties
// the bucket and stops the fake server.
func Client() (*s3.S3, string, func()) {
	var client *s3.S3
	closer := func() {}
	if endpoint := os.Getenv("STATETRIE_TEST_S3_ENDPOINT"); endpoint != "" {
		client = endpointClient(endpoint)
	} else {
		var ts *httptest.Server
		client, ts = fakeClient()
		closer = ts.Close
	}

	bucket := os.Getenv("STATETRIE_TEST_S3_BUCKET")
	created := bucket == ""
	if created {
		bucket = fmt.Sprintf("statetrie-%08x", randUint32())
		if _, err := client.CreateBucket(&s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
			panic(fmt.Errorf("create bucket %s: %w", bucket, err))
		}
	} else if err := emptyBucket(client, bucket); err != nil {
		panic(fmt.Errorf("empty bucket %s: %w", bucket, err))
	}

	stop := closer
	closer = func() {
		_ = emptyBucket(client, bucket)
		if created {
			_, _ = client.DeleteBucket(&s3.DeleteBucketInput{Bucket: aws.String(bucket)})
		}
		stop()
	}
	return client, bucket, closer
}

func getEnv(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	panic(fmt.Sprintf("environment '%s' unset", key))
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func randUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return binary.BigEndian.Uint32(b[:])
}

// emptyBucket deletes every object, one listed page at a time.
func emptyBucket(client *s3.S3, bucket string) error {
	var deleteErr error
	err := client.ListObjectsV2Pages(&s3.ListObjectsV2Input{Bucket: aws.String(bucket)},
		func(page *s3.ListObjectsV2Output, _ bool) bool {
			if len(page.Contents) == 0 {
				return true
			}
			ids := make([]*s3.ObjectIdentifier, len(page.Contents))
			for i, o := range page.Contents {
				ids[i] = &s3.ObjectIdentifier{Key: o.Key}
			}
			_, deleteErr = client.DeleteObjects(&s3.DeleteObjectsInput{
				Bucket: aws.String(bucket),
				Delete: &s3.Delete{Objects: ids},
			})
			return deleteErr == nil
		})
	if err != nil {
		return err
	}
	return deleteErr
}

// endpointClient talks to a real S3-compatible service. Without
// AWS_REGION the region only needs to be nonempty; with it, the SDK picks
// the AWS endpoint itself.
func endpointClient(endpoint string) *s3.S3 {
	config := aws.Config{
		Credentials: credentials.NewStaticCredentials(
			getEnv("AWS_ACCESS_KEY_ID"),
			getEnv("AWS_SECRET_ACCESS_KEY"),
			getEnvOrDefault("AWS_SESSION_TOKEN", ""),
		),
		Endpoint:         aws.String(endpoint),
		Region:           aws.String(getEnvOrDefault("AWS_REGION", "not-using-AWS")),
		S3ForcePathStyle: aws.Bool(true),
	}
	if *config.Region != "not-using-AWS" {
		config.Endpoint = nil
	}
	sess, err := session.NewSession(&config)
	if err != nil {
		panic(err)
	}
	return s3.New(sess)
}

func fakeClient() (*s3.S3, *httptest.Server) {
	faker := gofakes3.New(s3mem.New())
	ts := httptest.NewServer(faker.Server())
	sess, err := session.NewSession(&aws.Config{
		Credentials: credentials.NewStaticCredentials(
			"TEST-ACCESSKEYID",
			"TEST-SECRETACCESSKEY",
			"",
		),
		Endpoint:         aws.String(ts.URL),
		Region:           aws.String("ca-west-1"),
		DisableSSL:       aws.Bool(true),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		ts.Close()
		panic(err)
	}
	return s3.New(sess), ts
}
