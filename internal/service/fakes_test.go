package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/account-api/internal/apperror"
	"github.com/sakif/account-api/internal/model"
	"github.com/sakif/account-api/internal/repository"
)

// =========================================================================
// FAKE STORE
// =========================================================================

// memState is the whole "database". WithinTx works on a copy and swaps it in
// on success, which gives the fake real all-or-nothing semantics.
type memState struct {
	users    map[int64]*model.User
	profiles map[int64]*model.Profile
	access   map[string]*model.AccessToken
	revoked  map[string]time.Time
	nextID   int64
}

func newMemState() *memState {
	return &memState{
		users:    make(map[int64]*model.User),
		profiles: make(map[int64]*model.Profile),
		access:   make(map[string]*model.AccessToken),
		revoked:  make(map[string]time.Time),
		nextID:   1,
	}
}

func (s *memState) clone() *memState {
	cp := newMemState()
	cp.nextID = s.nextID
	for k, v := range s.users {
		u := *v
		cp.users[k] = &u
	}
	for k, v := range s.profiles {
		p := *v
		cp.profiles[k] = &p
	}
	for k, v := range s.access {
		a := *v
		cp.access[k] = &a
	}
	for k, v := range s.revoked {
		cp.revoked[k] = v
	}
	return cp
}

// fakeStore implements repository.Store.
// The *Err fields inject failures into specific operations.
type fakeStore struct {
	mu    sync.Mutex
	state *memState

	emailExistsErr error
	getByEmailErr  error
	profileErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: newMemState()}
}

func (f *fakeStore) Users() repository.UserRepository       { return &memUsers{f: f, tx: nil} }
func (f *fakeStore) Profiles() repository.ProfileRepository { return &memProfiles{f: f, tx: nil} }
func (f *fakeStore) Tokens() repository.TokenRepository     { return &memTokens{f: f, tx: nil} }

func (f *fakeStore) WithinTx(ctx context.Context, fn func(tx repository.Repositories) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tx := f.state.clone()
	if err := fn(memTx{f: f, st: tx}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.state = tx
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) Close() error               { return nil }

// with runs fn against the transaction state if tx is set, or the committed
// state under the store lock otherwise.
func (f *fakeStore) with(tx *memState, fn func(st *memState) error) error {
	if tx != nil {
		return fn(tx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(f.state)
}

func (f *fakeStore) counts() (users, profiles int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.state.users), len(f.state.profiles)
}

func (f *fakeStore) accessTokenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.state.access)
}

type memTx struct {
	f  *fakeStore
	st *memState
}

func (t memTx) Users() repository.UserRepository       { return &memUsers{f: t.f, tx: t.st} }
func (t memTx) Profiles() repository.ProfileRepository { return &memProfiles{f: t.f, tx: t.st} }
func (t memTx) Tokens() repository.TokenRepository     { return &memTokens{f: t.f, tx: t.st} }

// --- users ---

type memUsers struct {
	f  *fakeStore
	tx *memState
}

func (r *memUsers) Create(_ context.Context, user *model.User) error {
	return r.f.with(r.tx, func(st *memState) error {
		for _, u := range st.users {
			if u.Email == user.Email {
				return apperror.Conflict("email", EmailTakenMessage)
			}
		}
		user.ID = st.nextID
		st.nextID++
		if user.UUID == "" {
			user.UUID = uuid.NewString()
		}
		user.CreatedAt = time.Now()
		user.UpdatedAt = user.CreatedAt
		cp := *user
		st.users[user.ID] = &cp
		return nil
	})
}

func (r *memUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	var out *model.User
	err := r.f.with(r.tx, func(st *memState) error {
		u, ok := st.users[id]
		if !ok {
			return apperror.NotFound("user", strconv.FormatInt(id, 10))
		}
		cp := *u
		out = &cp
		return nil
	})
	return out, err
}

func (r *memUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	if r.f.getByEmailErr != nil {
		return nil, r.f.getByEmailErr
	}
	var out *model.User
	err := r.f.with(r.tx, func(st *memState) error {
		for _, u := range st.users {
			if u.Email == email {
				cp := *u
				out = &cp
				return nil
			}
		}
		return apperror.NotFound("user", email)
	})
	return out, err
}

func (r *memUsers) EmailExists(_ context.Context, email string) (bool, error) {
	if r.f.emailExistsErr != nil {
		return false, r.f.emailExistsErr
	}
	var exists bool
	err := r.f.with(r.tx, func(st *memState) error {
		for _, u := range st.users {
			if u.Email == email {
				exists = true
			}
		}
		return nil
	})
	return exists, err
}

// --- profiles ---

type memProfiles struct {
	f  *fakeStore
	tx *memState
}

func (r *memProfiles) Create(_ context.Context, profile *model.Profile) error {
	if r.f.profileErr != nil {
		return r.f.profileErr
	}
	return r.f.with(r.tx, func(st *memState) error {
		profile.ID = "profile-" + strconv.FormatInt(profile.UserID, 10)
		cp := *profile
		st.profiles[profile.UserID] = &cp
		return nil
	})
}

func (r *memProfiles) GetByUserID(_ context.Context, userID int64) (*model.Profile, error) {
	var out *model.Profile
	err := r.f.with(r.tx, func(st *memState) error {
		p, ok := st.profiles[userID]
		if !ok {
			return apperror.NotFound("profile", strconv.FormatInt(userID, 10))
		}
		cp := *p
		out = &cp
		return nil
	})
	return out, err
}

// --- tokens ---

type memTokens struct {
	f  *fakeStore
	tx *memState
}

func (r *memTokens) CreateAccessToken(_ context.Context, token *model.AccessToken) error {
	return r.f.with(r.tx, func(st *memState) error {
		cp := *token
		st.access[token.TokenHash] = &cp
		return nil
	})
}

func (r *memTokens) GetAccessTokenByHash(_ context.Context, hash string) (*model.AccessToken, error) {
	var out *model.AccessToken
	err := r.f.with(r.tx, func(st *memState) error {
		t, ok := st.access[hash]
		if !ok {
			return apperror.NotFound("access token", "(hash)")
		}
		cp := *t
		out = &cp
		return nil
	})
	return out, err
}

func (r *memTokens) TouchAccessToken(_ context.Context, id string, at time.Time) error {
	return r.f.with(r.tx, func(st *memState) error {
		for _, t := range st.access {
			if t.ID == id {
				at := at
				t.LastUsedAt = &at
			}
		}
		return nil
	})
}

func (r *memTokens) DeleteAccessToken(_ context.Context, hash string) error {
	return r.f.with(r.tx, func(st *memState) error {
		delete(st.access, hash)
		return nil
	})
}

func (r *memTokens) DeleteAccessTokensForUser(_ context.Context, userID int64) error {
	return r.f.with(r.tx, func(st *memState) error {
		for h, t := range st.access {
			if t.UserID == userID {
				delete(st.access, h)
			}
		}
		return nil
	})
}

func (r *memTokens) RevokeTokenID(_ context.Context, revoked model.RevokedToken, now time.Time) error {
	return r.f.with(r.tx, func(st *memState) error {
		for id, exp := range st.revoked {
			if !exp.After(now) {
				delete(st.revoked, id)
			}
		}
		if _, ok := st.revoked[revoked.TokenID]; !ok {
			st.revoked[revoked.TokenID] = revoked.ExpiresAt
		}
		return nil
	})
}

func (r *memTokens) IsTokenIDRevoked(_ context.Context, tokenID string, now time.Time) (bool, error) {
	var revoked bool
	err := r.f.with(r.tx, func(st *memState) error {
		exp, ok := st.revoked[tokenID]
		revoked = ok && exp.After(now)
		return nil
	})
	return revoked, err
}
