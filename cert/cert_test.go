package cert

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"sync"
	"testing"
)

func TestNewMemoryStoreMintsLeaf(t *testing.T) {
	store, err := NewMemoryStore(100)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}

	leaf, err := store.GetCert([]string{"example.test"})
	if err != nil {
		t.Fatalf("GetCert: %v", err)
	}

	x509Leaf, err := x509.ParseCertificate(leaf.Certificate[0])
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	if x509Leaf.Subject.CommonName != "example.test" {
		t.Fatalf("CN = %q", x509Leaf.Subject.CommonName)
	}
	if len(x509Leaf.DNSNames) != 1 || x509Leaf.DNSNames[0] != "example.test" {
		t.Fatalf("DNSNames = %v", x509Leaf.DNSNames)
	}

	pool := x509.NewCertPool()
	pool.AddCert(&store.RootCert)
	if _, err := x509Leaf.Verify(x509.VerifyOptions{DNSName: "example.test", Roots: pool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}}); err != nil {
		t.Fatalf("leaf does not verify against root: %v", err)
	}
}

func TestGetCertCacheHitReturnsSameLeaf(t *testing.T) {
	store, _ := NewMemoryStore(100)
	first, _ := store.GetCert([]string{"a.test", "b.test"})
	second, _ := store.GetCert([]string{"b.test", "a.test"}) // order-independent
	if string(first.Certificate[0]) != string(second.Certificate[0]) {
		t.Fatal("expected cache hit to return the identical leaf regardless of name order")
	}
}

func TestGetCertDistinctNameSetsMintSeparateLeaves(t *testing.T) {
	store, _ := NewMemoryStore(100)
	a, _ := store.GetCert([]string{"a.test"})
	b, _ := store.GetCert([]string{"a.test", "b.test"})
	if string(a.Certificate[0]) == string(b.Certificate[0]) {
		t.Fatal("expected distinct name sets to mint distinct leaves")
	}
}

func TestConcurrentMissesCollapseToOneMint(t *testing.T) {
	store, _ := NewMemoryStore(100)
	const n = 20
	results := make([]*tls.Certificate, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			cert, err := store.GetCert([]string{"race.test"})
			if err != nil {
				t.Errorf("GetCert: %v", err)
				return
			}
			results[i] = cert
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if string(results[i].Certificate[0]) != string(results[0].Certificate[0]) {
			t.Fatal("expected all concurrent misses for the same name set to yield the identical minted leaf")
		}
	}
}

func TestNewStorePersistsRootWithRestrictedKeyPermissions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 100)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	info, err := os.Stat(store.rootKeyFile())
	if err != nil {
		t.Fatalf("stat root key file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("root key file mode = %v, want 0600", info.Mode().Perm())
	}

	reloaded, err := NewStore(dir, 100)
	if err != nil {
		t.Fatalf("NewStore (reload): %v", err)
	}
	if !reloaded.RootCert.Equal(&store.RootCert) {
		t.Fatal("expected reloaded root cert to match persisted one")
	}
}
