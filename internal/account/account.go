// Package account implements ACME account lifecycle management: loading
// and persisting account state, registering with an endpoint, keeping
// contacts and keys synchronised, and key rollover. Adapted from
// original_source/acmed/src/account.rs, which has no equivalent in the
// teacher (the teacher's acme/resources/account.go only does a single
// keypair load/save with no per-endpoint state or rollover).
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/acmed/acmed/internal/acmecrypto"
	"github.com/acmed/acmed/internal/endpoint"
	"github.com/acmed/acmed/internal/storage"
	"github.com/acmed/acmed/internal/transport"
)

// ContactType enumerates the recognised account contact schemes. Only
// "mailfrom" (mailto:) is implemented; config.rs parses others but acmed
// itself only ever emits mailto contacts.
type ContactType string

const MailFrom ContactType = "mailfrom"

// ParseContactType parses a configured contact type name.
func ParseContactType(s string) (ContactType, error) {
	if ContactType(s) != MailFrom {
		return "", fmt.Errorf("%s: unknown contact type", s)
	}
	return MailFrom, nil
}

// Contact is one account contact entry, e.g. ("mailfrom", "admin@example.org").
type Contact struct {
	Type  ContactType
	Value string
}

func (c Contact) String() string {
	switch c.Type {
	case MailFrom:
		return "mailto:" + c.Value
	default:
		return c.Value
	}
}

// ExternalAccount holds External Account Binding (EAB) credentials
// issued out-of-band by the ACME CA.
type ExternalAccount struct {
	Identifier string
	Key        []byte
	Algorithm  acmecrypto.HashFunction
}

// Key is one generation of an account's signing key.
type Key struct {
	CreationDate time.Time
	Pair         *acmecrypto.KeyPair
	Algorithm    acmecrypto.SignatureAlgorithm
}

func newKey(keyType acmecrypto.KeyType, alg acmecrypto.SignatureAlgorithm) (*Key, error) {
	pair, err := acmecrypto.GenerateKeyPair(keyType)
	if err != nil {
		return nil, err
	}
	return &Key{CreationDate: time.Now(), Pair: pair, Algorithm: alg}, nil
}

// EndpointState is the per-(account,endpoint) record of where this
// account lives on that server and what was last synchronised to it.
type EndpointState struct {
	CreationDate         time.Time
	AccountURL           string
	OrdersURL            string
	KeyHash              []byte
	ContactsHash         []byte
	ExternalAccountHash  []byte
}

// persisted is the versioned on-disk shape of an Account, used for the
// JSON blob written via storage.FileManager (see SPEC_FULL.md's Open
// Questions: a versioned JSON envelope replaces the original's opaque
// binary serialisation).
type persisted struct {
	Version     int                       `json:"version"`
	Name        string                    `json:"name"`
	Endpoints   map[string]persistedState `json:"endpoints"`
	CurrentKey  persistedKey              `json:"current_key"`
	PastKeys    []persistedKey            `json:"past_keys"`
}

type persistedState struct {
	CreationDate        time.Time `json:"creation_date"`
	AccountURL          string    `json:"account_url"`
	OrdersURL           string    `json:"orders_url"`
	KeyHash             []byte    `json:"key_hash"`
	ContactsHash        []byte    `json:"contacts_hash"`
	ExternalAccountHash []byte    `json:"external_account_hash"`
}

type persistedKey struct {
	CreationDate time.Time `json:"creation_date"`
	Algorithm    string    `json:"algorithm"`
	KeyPEM       []byte    `json:"key_pem"`
}

const accountFormatVersion = 1

// Account is one configured acmed account: its signing key(s), contacts,
// EAB credentials, and per-endpoint synchronisation state.
type Account struct {
	Name            string
	Endpoints       map[string]*EndpointState
	Contacts        []Contact
	CurrentKey      *Key
	PastKeys        []*Key
	FileManager     *storage.FileManager
	ExternalAccount *ExternalAccount
}

// Load restores an account from disk, or creates a fresh one if none
// exists yet. If an account already exists but its configured key type
// or signature algorithm no longer matches, a new key is generated and
// the old one is retained in PastKeys (grounded on account.rs's
// update_keys).
func Load(fm *storage.FileManager, name string, contacts []Contact, keyType acmecrypto.KeyType, alg acmecrypto.SignatureAlgorithm, ext *ExternalAccount) (*Account, error) {
	if err := keyType.CheckCompatibility(alg); err != nil {
		return nil, err
	}

	existing, err := fetch(fm, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.Contacts = contacts
		existing.ExternalAccount = ext
		if err := existing.updateKeys(keyType, alg); err != nil {
			return nil, err
		}
		return existing, nil
	}

	key, err := newKey(keyType, alg)
	if err != nil {
		return nil, err
	}
	return &Account{
		Name:            name,
		Endpoints:       map[string]*EndpointState{},
		Contacts:        contacts,
		CurrentKey:      key,
		FileManager:     fm,
		ExternalAccount: ext,
	}, nil
}

func fetch(fm *storage.FileManager, name string) (*Account, error) {
	if !fm.AccountFilesExist() {
		return nil, nil
	}
	raw, err := fm.GetAccountData()
	if err != nil {
		return nil, err
	}
	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding account %q: %w", name, err)
	}
	if p.Version > accountFormatVersion {
		return nil, fmt.Errorf("account %q: unsupported format version %d", name, p.Version)
	}

	currentKey, err := decodeKey(p.CurrentKey)
	if err != nil {
		return nil, err
	}
	pastKeys := make([]*Key, 0, len(p.PastKeys))
	for _, pk := range p.PastKeys {
		k, err := decodeKey(pk)
		if err != nil {
			return nil, err
		}
		pastKeys = append(pastKeys, k)
	}

	endpoints := make(map[string]*EndpointState, len(p.Endpoints))
	for name, s := range p.Endpoints {
		endpoints[name] = &EndpointState{
			CreationDate:        s.CreationDate,
			AccountURL:          s.AccountURL,
			OrdersURL:           s.OrdersURL,
			KeyHash:             s.KeyHash,
			ContactsHash:        s.ContactsHash,
			ExternalAccountHash: s.ExternalAccountHash,
		}
	}

	return &Account{
		Name:        p.Name,
		Endpoints:   endpoints,
		CurrentKey:  currentKey,
		PastKeys:    pastKeys,
		FileManager: fm,
	}, nil
}

func decodeKey(pk persistedKey) (*Key, error) {
	pair, err := acmecrypto.FromPEM(pk.KeyPEM)
	if err != nil {
		return nil, err
	}
	alg, err := acmecrypto.ParseSignatureAlgorithm(pk.Algorithm)
	if err != nil {
		return nil, err
	}
	return &Key{CreationDate: pk.CreationDate, Pair: pair, Algorithm: alg}, nil
}

func encodeKey(k *Key) (persistedKey, error) {
	pem, err := k.Pair.ToPEM()
	if err != nil {
		return persistedKey{}, err
	}
	return persistedKey{CreationDate: k.CreationDate, Algorithm: k.Algorithm.String(), KeyPEM: pem}, nil
}

// Save persists the account to disk via its FileManager.
func (a *Account) Save(ctx context.Context) error {
	currentKey, err := encodeKey(a.CurrentKey)
	if err != nil {
		return err
	}
	pastKeys := make([]persistedKey, 0, len(a.PastKeys))
	for _, k := range a.PastKeys {
		pk, err := encodeKey(k)
		if err != nil {
			return err
		}
		pastKeys = append(pastKeys, pk)
	}
	endpoints := make(map[string]persistedState, len(a.Endpoints))
	for name, s := range a.Endpoints {
		endpoints[name] = persistedState{
			CreationDate:        s.CreationDate,
			AccountURL:          s.AccountURL,
			OrdersURL:           s.OrdersURL,
			KeyHash:             s.KeyHash,
			ContactsHash:        s.ContactsHash,
			ExternalAccountHash: s.ExternalAccountHash,
		}
	}

	data, err := json.Marshal(persisted{
		Version:    accountFormatVersion,
		Name:       a.Name,
		Endpoints:  endpoints,
		CurrentKey: currentKey,
		PastKeys:   pastKeys,
	})
	if err != nil {
		return err
	}
	return a.FileManager.SetAccountData(ctx, data)
}

// AddEndpointName registers endpointName as a target this account
// should be synchronised to, if not already known.
func (a *Account) AddEndpointName(endpointName string) {
	if _, ok := a.Endpoints[endpointName]; !ok {
		a.Endpoints[endpointName] = &EndpointState{CreationDate: time.Unix(0, 0)}
	}
}

// AccountURL returns the account's URL on the given endpoint, as set by
// a prior Register call.
func (a *Account) AccountURL(endpointName string) (string, error) {
	s, err := a.endpointState(endpointName)
	if err != nil {
		return "", err
	}
	return s.AccountURL, nil
}

// Key returns the account's current signing key pair and algorithm.
func (a *Account) Key() (*acmecrypto.KeyPair, acmecrypto.SignatureAlgorithm) {
	return a.CurrentKey.Pair, a.CurrentKey.Algorithm
}

func (a *Account) endpointState(endpointName string) (*EndpointState, error) {
	s, ok := a.Endpoints[endpointName]
	if !ok {
		return nil, fmt.Errorf("%q: unknown endpoint for account %q", endpointName, a.Name)
	}
	return s, nil
}

func (a *Account) updateKeys(keyType acmecrypto.KeyType, alg acmecrypto.SignatureAlgorithm) error {
	if a.CurrentKey.Pair.Type == keyType && a.CurrentKey.Algorithm == alg {
		return nil
	}
	a.PastKeys = append(a.PastKeys, a.CurrentKey)
	newKey, err := newKey(keyType, alg)
	if err != nil {
		return err
	}
	a.CurrentKey = newKey
	return nil
}

func hashContacts(contacts []Contact) []byte {
	var msg []byte
	for _, c := range contacts {
		msg = append(msg, []byte(c.String())...)
	}
	return acmecrypto.SHA256.Hash(msg)
}

func hashKey(k *Key) ([]byte, error) {
	pub, err := k.Pair.PublicKeyPEM()
	if err != nil {
		return nil, err
	}
	return acmecrypto.SHA256.Hash(pub), nil
}

func hashExternalAccount(ext *ExternalAccount) []byte {
	msg := append(append([]byte{}, ext.Key...), []byte(ext.Identifier)...)
	return acmecrypto.SHA256.Hash(msg)
}

// Synchronise ensures this account is registered and up to date on ep:
// registering if never seen, re-registering if the EAB changed, and
// otherwise pushing contact or key updates as needed. Grounded on
// account.rs's synchronize.
func (a *Account) Synchronise(ctx context.Context, client *transport.Client, ep *endpoint.Endpoint) error {
	state, err := a.endpointState(ep.Name)
	if err != nil {
		return err
	}

	if state.AccountURL == "" {
		return a.Register(ctx, client, ep)
	}

	if a.ExternalAccount != nil {
		ext := hashExternalAccount(a.ExternalAccount)
		if !bytesEqual(ext, state.ExternalAccountHash) {
			return a.Register(ctx, client, ep)
		}
	}

	ctHash := hashContacts(a.Contacts)
	keyHash, err := hashKey(a.CurrentKey)
	if err != nil {
		return err
	}

	if !bytesEqual(ctHash, state.ContactsHash) {
		if err := a.updateContacts(ctx, client, ep); err != nil {
			return err
		}
	}
	if !bytesEqual(keyHash, state.KeyHash) {
		if err := a.rollover(ctx, client, ep); err != nil {
			return err
		}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
