// Package api holds the JSON messages of the HTTP API and their conversion
// from and into the ledger types.
package api

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/computeledger/trainmgr/ledger"
	"github.com/computeledger/trainmgr/settlement"
	"github.com/computeledger/trainmgr/signing"
	"github.com/computeledger/trainmgr/training"
	"github.com/computeledger/trainmgr/types"
)

type Error struct {
	Kind  types.Kind `json:"kind"`
	Error string     `json:"error"`
}

// Err rebuilds the typed error carried by the response.
func (e *Error) Err() error {
	return types.ErrorFromKind(e.Kind, e.Error)
}

type Info struct {
	ChainID uint64         `json:"chain_id"`
	Height  uint64         `json:"height"`
	Block   uint64         `json:"block"`
	Head    types.Hash     `json:"head"`
	Admin   types.Identity `json:"admin"`
}

type SubmitTxRequest struct {
	Tx string `json:"tx"`
}

type SubmitTxResponse struct {
	Hash types.Hash `json:"hash"`
}

func IntoSubmitTxRequest(tx *signing.SignedTx) (*SubmitTxRequest, error) {
	data, err := tx.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding tx: %w", err)
	}
	return &SubmitTxRequest{Tx: hex.EncodeToString(data)}, nil
}

// FromSubmitTxRequest decodes the transaction. The signature is checked by
// the ledger.
func FromSubmitTxRequest(r *SubmitTxRequest) (*signing.SignedTx, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(r.Tx, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: tx is not hex: %v", types.ErrInvalidArgument, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty tx", types.ErrInvalidArgument)
	}
	return signing.DecodeSignedTx(data)
}

type Receipt struct {
	Hash    types.Hash     `json:"hash"`
	Height  uint64         `json:"height"`
	Block   uint64         `json:"block"`
	From    types.Identity `json:"from"`
	Nonce   uint64         `json:"nonce"`
	Method  string         `json:"method"`
	Status  string         `json:"status"`
	Kind    types.Kind     `json:"kind,omitempty"`
	Error   string         `json:"error,omitempty"`
	Result  uint64         `json:"result"`
	LogHash types.Hash     `json:"log_hash"`
}

func IntoReceipt(r *ledger.Receipt) *Receipt {
	return &Receipt{
		Hash:    r.Hash,
		Height:  r.Height,
		Block:   r.Block,
		From:    r.From,
		Nonce:   r.Nonce,
		Method:  r.Method.String(),
		Status:  r.Status.String(),
		Kind:    r.Kind,
		Error:   r.Error,
		Result:  r.Result,
		LogHash: r.LogHash,
	}
}

func FromReceipt(r *Receipt) (*ledger.Receipt, error) {
	method, err := signing.ParseMethod(r.Method)
	if err != nil {
		return nil, err
	}
	receipt := &ledger.Receipt{
		Hash:    r.Hash,
		Height:  r.Height,
		Block:   r.Block,
		From:    r.From,
		Nonce:   r.Nonce,
		Method:  method,
		Status:  ledger.StatusFailed,
		Kind:    r.Kind,
		Error:   r.Error,
		Result:  r.Result,
		LogHash: r.LogHash,
	}
	if r.Status == ledger.StatusSuccess.String() {
		receipt.Status = ledger.StatusSuccess
	}
	return receipt, nil
}

type Nonce struct {
	Address types.Identity `json:"address"`
	Nonce   uint64         `json:"nonce"`
}

type LatestRun struct {
	ID types.RunID `json:"id"`
}

type Run struct {
	ID              types.RunID    `json:"id"`
	Name            string         `json:"name"`
	Budget          uint64         `json:"budget"`
	Owner           types.Identity `json:"owner"`
	Status          string         `json:"status"`
	CreatedAt       uint64         `json:"created_at"`
	StartedAt       uint64         `json:"started_at,omitempty"`
	EndedAt         uint64         `json:"ended_at,omitempty"`
	Members         uint64         `json:"members"`
	Attestations    uint64         `json:"attestations"`
	AttestationRoot string         `json:"attestation_root,omitempty"`
}

func IntoRun(r *training.Run) *Run {
	run := &Run{
		ID:           r.ID,
		Name:         r.Name,
		Budget:       r.Budget,
		Owner:        r.Owner,
		Status:       r.Status.String(),
		CreatedAt:    r.CreatedAt,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
		Members:      r.Members,
		Attestations: r.Attestations,
	}
	if len(r.AttestationRoot) > 0 {
		run.AttestationRoot = hex.EncodeToString(r.AttestationRoot)
	}
	return run
}

func FromRun(r *Run) (*training.Run, error) {
	status, err := parseStatus(r.Status)
	if err != nil {
		return nil, err
	}
	run := &training.Run{
		ID:           r.ID,
		Name:         r.Name,
		Budget:       r.Budget,
		Owner:        r.Owner,
		Status:       status,
		CreatedAt:    r.CreatedAt,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
		Members:      r.Members,
		Attestations: r.Attestations,
	}
	if r.AttestationRoot != "" {
		if run.AttestationRoot, err = hex.DecodeString(r.AttestationRoot); err != nil {
			return nil, fmt.Errorf("%w: attestation root: %v", types.ErrInvalidArgument, err)
		}
	}
	return run, nil
}

func parseStatus(s string) (types.RunStatus, error) {
	for _, status := range []types.RunStatus{types.RunRegistered, types.RunStarted, types.RunEnded} {
		if status.String() == s {
			return status, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown run status %q", types.ErrInvalidArgument, s)
}

type Member struct {
	Identity     types.Identity `json:"identity"`
	IP           string         `json:"ip"`
	JoinedAt     uint64         `json:"joined_at"`
	Attestations uint64         `json:"attestations"`
}

type Members struct {
	Run   types.RunID `json:"run"`
	Nodes []Member    `json:"nodes"`
}

func IntoMembers(id types.RunID, members []training.Member) *Members {
	resp := &Members{Run: id, Nodes: make([]Member, 0, len(members))}
	for _, m := range members {
		resp.Nodes = append(resp.Nodes, Member(m))
	}
	return resp
}

func FromMembers(r *Members) []training.Member {
	members := make([]training.Member, 0, len(r.Nodes))
	for _, m := range r.Nodes {
		members = append(members, training.Member(m))
	}
	return members
}

type Payout struct {
	Identity     types.Identity `json:"identity"`
	Attestations uint64         `json:"attestations"`
	Counted      uint64         `json:"counted"`
	Amount       uint64         `json:"amount"`
}

type Slash struct {
	Identity  types.Identity `json:"identity"`
	Requested uint64         `json:"requested"`
	Slashed   uint64         `json:"slashed"`
}

type Settlement struct {
	Run               types.RunID    `json:"run"`
	Height            uint64         `json:"height"`
	Budget            uint64         `json:"budget"`
	TotalAttestations uint64         `json:"total_attestations"`
	Paid              uint64         `json:"paid"`
	DustTo            types.Identity `json:"dust_to"`
	Dust              uint64         `json:"dust"`
	Payouts           []Payout       `json:"payouts"`
	Slashes           []Slash        `json:"slashes"`
}

func IntoSettlement(r *settlement.Record) *Settlement {
	resp := &Settlement{
		Run:               r.Run,
		Height:            r.Height,
		Budget:            r.Budget,
		TotalAttestations: r.TotalAttestations,
		Paid:              r.Paid,
		DustTo:            r.DustTo,
		Dust:              r.Dust,
		Payouts:           make([]Payout, 0, len(r.Payouts)),
		Slashes:           make([]Slash, 0, len(r.Slashes)),
	}
	for _, p := range r.Payouts {
		resp.Payouts = append(resp.Payouts, Payout(p))
	}
	for _, s := range r.Slashes {
		resp.Slashes = append(resp.Slashes, Slash(s))
	}
	return resp
}

func FromSettlement(r *Settlement) *settlement.Record {
	record := &settlement.Record{
		Run:               r.Run,
		Height:            r.Height,
		Budget:            r.Budget,
		TotalAttestations: r.TotalAttestations,
		Paid:              r.Paid,
		DustTo:            r.DustTo,
		Dust:              r.Dust,
	}
	for _, p := range r.Payouts {
		record.Payouts = append(record.Payouts, settlement.Payout(p))
	}
	for _, s := range r.Slashes {
		record.Slashes = append(record.Slashes, settlement.Slash(s))
	}
	return record
}

// Attestations are hex encoded, in submission order.
type Attestations struct {
	Run          types.RunID    `json:"run,omitempty"`
	Node         types.Identity `json:"node"`
	Attestations []string       `json:"attestations"`
}

func IntoAttestations(id types.RunID, node types.Identity, atts [][]byte) *Attestations {
	resp := &Attestations{Run: id, Node: node, Attestations: make([]string, 0, len(atts))}
	for _, att := range atts {
		resp.Attestations = append(resp.Attestations, hex.EncodeToString(att))
	}
	return resp
}

func FromAttestations(r *Attestations) ([][]byte, error) {
	atts := make([][]byte, 0, len(r.Attestations))
	for i, s := range r.Attestations {
		att, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: attestation %d: %v", types.ErrInvalidArgument, i, err)
		}
		atts = append(atts, att)
	}
	return atts, nil
}

type NodeValid struct {
	Node  types.Identity `json:"node"`
	Valid bool           `json:"valid"`
}

type Amount struct {
	// Address is nil for amounts that belong to nobody, like the minimum stake.
	Address *types.Identity `json:"address,omitempty"`
	Amount  uint64          `json:"amount"`
}

type Roles struct {
	Address types.Identity `json:"address"`
	Roles   []string       `json:"roles"`
}

func IntoRoles(id types.Identity, set types.RoleSet) *Roles {
	resp := &Roles{Address: id, Roles: []string{}}
	for _, r := range set.Roles() {
		resp.Roles = append(resp.Roles, r.String())
	}
	return resp
}

func FromRoles(r *Roles) (types.RoleSet, error) {
	var set types.RoleSet
	for _, name := range r.Roles {
		role, err := types.ParseRole(name)
		if err != nil {
			return 0, err
		}
		set = set.With(role)
	}
	return set, nil
}

type Whitelist struct {
	Address     types.Identity `json:"address"`
	Whitelisted bool           `json:"whitelisted"`
}

// Account combines the balances and roles of one identity.
type Account struct {
	Address     types.Identity `json:"address"`
	Tokens      uint64         `json:"tokens"`
	Stake       uint64         `json:"stake"`
	Roles       []string       `json:"roles"`
	Whitelisted bool           `json:"whitelisted"`
}

func IntoAccount(id types.Identity, b *ledger.Balances) *Account {
	return &Account{
		Address:     id,
		Tokens:      b.Tokens,
		Stake:       b.Stake,
		Roles:       IntoRoles(id, b.Roles).Roles,
		Whitelisted: b.Whitelisted,
	}
}

func FromAccount(r *Account) (*ledger.Balances, error) {
	set, err := FromRoles(&Roles{Address: r.Address, Roles: r.Roles})
	if err != nil {
		return nil, err
	}
	return &ledger.Balances{
		Tokens:      r.Tokens,
		Stake:       r.Stake,
		Roles:       set,
		Whitelisted: r.Whitelisted,
	}, nil
}
