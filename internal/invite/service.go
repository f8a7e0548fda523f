// Package invite maneja el ciclo de vida de los tokens de onboarding.
// El token es una capability opaca de un solo uso (32 bytes random, hex),
// familia distinta a los JWT firmados: no carga claims, se redime una vez.
package invite

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mitselek/polyphony-sub002/internal/observability/logger"
	"github.com/mitselek/polyphony-sub002/internal/store/core"
	"github.com/mitselek/polyphony-sub002/internal/util"
)

var (
	// ErrDuplicatePendingInvite: el roster member ya tiene un invite pending.
	ErrDuplicatePendingInvite = errors.New("duplicate_pending_invite")
	ErrInvalidToken           = errors.New("invalid_invite_token")
	ErrAlreadyAccepted        = errors.New("invite_already_accepted")
	ErrExpired                = errors.New("invite_expired")
)

// TTL es la ventana fija de vigencia: create y renew parten de now + TTL.
const TTL = 48 * time.Hour

// Mailer envía el mail con el link de redención. Opcional.
type Mailer interface {
	SendInvite(to, memberName, link string) error
}

type Service struct {
	store core.Repository
	now   func() time.Time

	mailer  Mailer
	baseURL string // base del link de redención
	log     *zap.Logger
}

func NewService(store core.Repository) *Service {
	return &Service{
		store: store,
		now:   time.Now,
		log:   logger.Named("invite"),
	}
}

// WithMailer habilita el envío del link de redención al crear invites.
func (s *Service) WithMailer(m Mailer, baseURL string) *Service {
	s.mailer = m
	s.baseURL = baseURL
	return s
}

// WithClock fija el reloj (tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create emite un invite pending para un roster member. A lo sumo un pending
// por member: el lookup-before-create es el guard (no hay constraint en DB).
func (s *Service) Create(ctx context.Context, rosterMemberID string, roles []string, invitedBy string, voicePart *string) (*core.Invite, error) {
	if _, err := s.store.GetPendingInviteForMember(ctx, rosterMemberID); err == nil {
		return nil, ErrDuplicatePendingInvite
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	tok, err := newToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	inv := &core.Invite{
		ID:             uuid.NewString(),
		RosterMemberID: rosterMemberID,
		Token:          tok,
		InvitedBy:      invitedBy,
		Roles:          append([]string(nil), roles...),
		VoicePart:      voicePart,
		Status:         core.InvitePending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(TTL),
	}
	if err := s.store.CreateInvite(ctx, inv); err != nil {
		return nil, err
	}
	s.log.Info("invite_created",
		zap.String("invite_id", inv.ID),
		zap.String("roster_member_id", rosterMemberID),
		zap.String("invited_by", invitedBy))
	return inv, nil
}

// Lookup valida que un token sea redimible (pending y no vencido) sin mutarlo.
// Lo usa el entrypoint de redención antes de arrancar OAuth.
func (s *Service) Lookup(ctx context.Context, tok string) (*core.Invite, error) {
	inv, err := s.store.GetInviteByToken(ctx, tok)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if inv.Status == core.InviteAccepted {
		return nil, ErrAlreadyAccepted
	}
	if inv.Expired(s.now()) {
		return nil, ErrExpired
	}
	return inv, nil
}

// Accept redime el invite ligando la identidad verificada al roster member.
// Es el único punto donde data no confiable del roster (nombre, roles
// pretendidos) queda atada a una identidad verificada criptográficamente;
// los tres efectos van en una transacción del store.
func (s *Service) Accept(ctx context.Context, tok, verifiedEmail string, verifiedName *string, picture *string) (string, error) {
	inv, err := s.store.GetInviteByToken(ctx, tok)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	if inv.Status == core.InviteAccepted {
		return "", ErrAlreadyAccepted
	}
	if inv.Expired(s.now()) {
		return "", ErrExpired
	}

	err = s.store.AcceptInvite(ctx, core.AcceptInvite{
		InviteID:   inv.ID,
		MemberID:   inv.RosterMemberID,
		Email:      verifiedEmail,
		Name:       verifiedName,
		Picture:    picture,
		VoicePart:  inv.VoicePart,
		Roles:      inv.Roles,
		AcceptedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, core.ErrConflict) {
			// otra request redimió primero
			return "", ErrAlreadyAccepted
		}
		return "", err
	}
	s.log.Info("invite_accepted",
		zap.String("invite_id", inv.ID),
		zap.String("member_id", inv.RosterMemberID),
		zap.String("email", util.MaskEmail(verifiedEmail)))
	return inv.RosterMemberID, nil
}

// Renew extiende expires_at a now+TTL. Sólo muta filas pending; el guard es
// status, no el vencimiento derivado: renovar un pending lógicamente vencido
// es el camino de recuperación esperado.
func (s *Service) Renew(ctx context.Context, id string) (*core.Invite, error) {
	inv, err := s.store.RenewInvite(ctx, id, s.now().Add(TTL))
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// Revoke borra en duro, sólo filas pending. Un invite aceptado es historia.
func (s *Service) Revoke(ctx context.Context, id string) error {
	return s.store.DeletePendingInvite(ctx, id)
}

// SendMail manda el link de redención si hay mailer configurado.
func (s *Service) SendMail(ctx context.Context, inv *core.Invite, to, memberName string) error {
	if s.mailer == nil {
		return nil
	}
	link := s.baseURL + "/v1/invite/accept?token=" + inv.Token
	if err := s.mailer.SendInvite(to, memberName, link); err != nil {
		s.log.Error("invite_mail_failed", zap.String("invite_id", inv.ID), zap.Error(err))
		return err
	}
	return nil
}

// newToken: 32 bytes random, hex. Único e inadivinable.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
