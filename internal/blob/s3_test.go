/*
Copyright 2025 The OrgSync Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package blob

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/google/go-cmp/cmp"
)

type fakeS3 struct {
	objects map[string][]byte
	putKeys []string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[*in.Key] = data
	f.putKeys = append(f.putKeys, *in.Key)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3Key(t *testing.T) {
	cases := map[string]struct {
		reason string
		prefix string
		name   string
		want   string
	}{
		"NoPrefix": {
			reason: "Without a prefix the name is the key.",
			prefix: "",
			name:   "var/users.json",
			want:   "var/users.json",
		},
		"Prefix": {
			reason: "A prefix is joined with a single slash.",
			prefix: "sync",
			name:   "var/users.json",
			want:   "sync/var/users.json",
		},
		"SlashedPrefix": {
			reason: "Stray slashes around the prefix are trimmed.",
			prefix: "/sync/prod/",
			name:   "var/users.json",
			want:   "sync/prod/var/users.json",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := &S3{prefix: tc.prefix}
			if diff := cmp.Diff(tc.want, s.key(tc.name)); diff != "" {
				t.Errorf("\n%s\nkey(%q): -want, +got:\n%s", tc.reason, tc.name, diff)
			}
		})
	}
}

func TestS3RoundTrip(t *testing.T) {
	fake := &fakeS3{}
	s := &S3{client: fake, bucket: "blobs", prefix: "sync", log: logging.NewNopLogger()}
	ctx := context.Background()

	want := payload{Name: "Jan", Count: 3}
	if err := s.SaveJSON(ctx, "var/users.json", want); err != nil {
		t.Fatalf("SaveJSON(): unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"sync/var/users.json"}, fake.putKeys); diff != "" {
		t.Errorf("SaveJSON() keys: -want, +got:\n%s", diff)
	}

	var got payload
	if err := s.LoadJSON(ctx, "var/users.json", &got); err != nil {
		t.Fatalf("LoadJSON(): unexpected error: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadJSON(): -want, +got:\n%s", diff)
	}
}

func TestS3LoadMissing(t *testing.T) {
	s := &S3{client: &fakeS3{}, bucket: "blobs", log: logging.NewNopLogger()}

	var got payload
	err := s.LoadJSON(context.Background(), "var/absent.json", &got)
	if err == nil {
		t.Fatal("LoadJSON(): expected an error for a missing object")
	}
	if !IsNotExist(err) {
		t.Errorf("LoadJSON(): missing objects must satisfy IsNotExist, got %v", err)
	}
}

func TestS3Exists(t *testing.T) {
	fake := &fakeS3{}
	s := &S3{client: fake, bucket: "blobs", log: logging.NewNopLogger()}
	ctx := context.Background()

	ok, err := s.Exists(ctx, "var/users.json")
	if err != nil || ok {
		t.Fatalf("Exists(): want false, nil before save; got %v, %v", ok, err)
	}

	if err := s.SaveJSON(ctx, "var/users.json", payload{}); err != nil {
		t.Fatalf("SaveJSON(): unexpected error: %v", err)
	}

	ok, err = s.Exists(ctx, "var/users.json")
	if err != nil || !ok {
		t.Fatalf("Exists(): want true, nil after save; got %v, %v", ok, err)
	}
}
