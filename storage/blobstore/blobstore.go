/*
Package blobstore implements a store on top of Go CDK blob buckets so volumes can be
read from and written to cloud object storage.  The bucket is selected by URL:

	gs://my-bucket       Google Cloud Storage
	s3://my-bucket       Amazon S3
	file:///data/vols    local directory
	mem://               in-memory bucket, useful for testing

An optional "prefix" setting places all keys under a folder within the bucket.
*/
package blobstore

import (
	"context"
	"fmt"

	"github.com/blang/semver"
	"github.com/janelia-flyem/mipmapper/dvid"
	"github.com/janelia-flyem/mipmapper/storage"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		dvid.Errorf("Unable to make semver in blobstore: %v\n", err)
	}
	e := Engine{"blobstore", "Go CDK blob bucket store (gs, s3, file, mem)", ver}
	storage.RegisterEngine(e)
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// NewStore opens a bucket. The passed Config must contain a "url" setting and may contain
// a "prefix" setting.  Buckets are never created, so created is always false.
func (e Engine) NewStore(config dvid.StoreConfig) (storage.Store, bool, error) {
	url, found, err := config.GetString("url")
	if err != nil {
		return nil, false, err
	}
	if !found || url == "" {
		return nil, false, fmt.Errorf("%q must be specified for blobstore configuration", "url")
	}
	prefix, _, err := config.GetString("prefix")
	if err != nil {
		return nil, false, err
	}
	dvid.Infof("Trying to open blob store @ %q ...\n", url)
	bucket, err := blob.OpenBucket(context.Background(), url)
	if err != nil {
		return nil, false, fmt.Errorf("can't open bucket %q: %w", url, err)
	}
	return New(bucket, url, prefix), false, nil
}

// Store is a storage.Store on a blob bucket.
type Store struct {
	ref    string
	prefix string
	bucket *blob.Bucket
}

// New returns a store on an already opened bucket.  The store takes ownership of the bucket.
func New(bucket *blob.Bucket, ref, prefix string) *Store {
	return &Store{
		ref:    ref,
		prefix: storage.NormalizeKey(prefix),
		bucket: bucket,
	}
}

func (bs *Store) String() string {
	if bs.prefix == "" {
		return fmt.Sprintf("blob store @ %s", bs.ref)
	}
	return fmt.Sprintf("blob store @ %s/%s", bs.ref, bs.prefix)
}

func (bs *Store) objectKey(key string) (string, error) {
	k := storage.JoinKey(bs.prefix, key)
	if k == "" {
		return "", fmt.Errorf("empty key not allowed in %s", bs)
	}
	return k, nil
}

// Get returns nil/nil if the object does not exist.
func (bs *Store) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := bs.objectKey(key)
	if err != nil {
		return nil, err
	}
	data, err := bs.bucket.ReadAll(ctx, k)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("read of object %q: %w", k, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (bs *Store) Set(ctx context.Context, key string, value []byte) error {
	k, err := bs.objectKey(key)
	if err != nil {
		return err
	}
	timedLog := dvid.NewTimeLog()
	if err := bs.bucket.WriteAll(ctx, k, value, nil); err != nil {
		return fmt.Errorf("write of object %q: %w", k, err)
	}
	timedLog.Debugf("Wrote object %q, size %d", k, len(value))
	return nil
}

func (bs *Store) Close() error {
	if err := bs.bucket.Close(); err != nil {
		dvid.Errorf("Error on trying to close blob store (%s): %v\n", bs, err)
		return err
	}
	return nil
}
