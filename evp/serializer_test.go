package evp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userRegistered struct {
	UserId string `json:"userId"`
	Email  string `json:"email"`
}

func (userRegistered) EventType() string { return "UserRegistered" }

type untyped struct{}

func (untyped) EventType() string { return " " }

type unserializable struct {
	C chan int
}

func (unserializable) EventType() string { return "Unserializable" }

func TestJSONSerializerRoundTrip(t *testing.T) {
	s := NewJSONSerializer()
	require.NoError(t, s.Register("UserRegistered", func() Event { return &userRegistered{} }))

	payload, err := s.Marshal(userRegistered{UserId: "u-1", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"userId":"u-1","email":"ada@example.com"}`, string(payload))

	e, err := s.Unmarshal("UserRegistered", payload)
	require.NoError(t, err)
	assert.Equal(t, &userRegistered{UserId: "u-1", Email: "ada@example.com"}, e)
}

func TestJSONSerializerErrors(t *testing.T) {
	s := NewJSONSerializer()
	require.NoError(t, s.Register("UserRegistered", func() Event { return &userRegistered{} }))

	testcases := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{
			name: "nil event",
			run: func() error {
				_, err := s.Marshal(nil)
				return err
			},
		},
		{
			name: "blank event type",
			run: func() error {
				_, err := s.Marshal(untyped{})
				return err
			},
			wantErr: ErrEventTypeRequired,
		},
		{
			name: "payload cannot be encoded",
			run: func() error {
				_, err := s.Marshal(unserializable{C: make(chan int)})
				return err
			},
		},
		{
			name: "unknown event type",
			run: func() error {
				_, err := s.Unmarshal("Nope", []byte(`{}`))
				return err
			},
			wantErr: ErrUnknownEventType,
		},
		{
			name: "payload cannot be decoded",
			run: func() error {
				_, err := s.Unmarshal("UserRegistered", []byte(`{"userId":`))
				return err
			},
		},
		{
			name: "register without type",
			run: func() error {
				return s.Register("", func() Event { return &userRegistered{} })
			},
			wantErr: ErrEventTypeRequired,
		},
		{
			name: "register without factory",
			run: func() error {
				return s.Register("Other", nil)
			},
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}
