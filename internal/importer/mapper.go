package importer

import (
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strconv"

	"github.com/cuongbtq/user-provisioner/internal/provision"
)

var (
	// ErrIdentityColumnMissing is returned when no header matches the identity aliases
	ErrIdentityColumnMissing = errors.New("identity column not found")

	// ErrUnknownIDColumn is returned when an explicit idcol is not in the header
	ErrUnknownIDColumn = errors.New("idcol not found in header")

	// ErrInvalidMatch is returned for an unsupported match strategy
	ErrInvalidMatch = errors.New("invalid match strategy")

	// ErrInvalidMetaMode is returned for an unsupported meta-key mode
	ErrInvalidMetaMode = errors.New("invalid meta mode")
)

// SkipReason explains why a row produced no job.
type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipMissingRequired SkipReason = "missing_required"
	SkipMissingIdentity SkipReason = "missing_identity"
	SkipInvalidID       SkipReason = "invalid_id"
	SkipEmptyMeta       SkipReason = "empty_meta"
)

// Header aliases, preferred name first.
var (
	loginAliases       = []string{"login", "user_login", "username", "user", "user_nicename", "usuario"}
	emailAliases       = []string{"email", "user_email", "correo", "mail", "correo_electronico"}
	firstNameAliases   = []string{"first_name", "firstname", "nombre"}
	lastNameAliases    = []string{"last_name", "lastname", "apellido", "apellidos"}
	displayNameAliases = []string{"display_name", "displayname", "nombre_mostrar"}
	urlAliases         = []string{"user_url", "url", "website"}
	nicknameAliases    = []string{"nickname", "nick", "alias"}
	passwordAliases    = []string{"password", "user_pass", "pass"}
	descriptionAliases = []string{"description", "descripcion", "bio"}

	metaLoginAliases = []string{"user_login", "username", "login", "user", "user_name", "nombre_de_usuario", "usuario"}
	metaEmailAliases = []string{"user_email", "email", "correo", "correo_electronico", "mail"}
	metaIDAliases    = []string{"user_id", "id"}
)

// coreColumns holds the positions CoreMapper.Map reads, resolved once per file.
type coreColumns struct {
	login, email, firstName, lastName, displayName, url, nickname, password, description int
}

// CoreMapper turns CSV rows into user-creation records.
type CoreMapper struct {
	width int
	cols  coreColumns
	role  string
}

// NewCoreMapper resolves the user-creation columns. Missing login or email
// columns are a configuration error.
func NewCoreMapper(idx ColumnIndex, role string) (*CoreMapper, error) {
	resolve := func(aliases []string) int {
		pos, _ := idx.Resolve(aliases...)
		return pos
	}

	cols := coreColumns{
		login:       resolve(loginAliases),
		email:       resolve(emailAliases),
		firstName:   resolve(firstNameAliases),
		lastName:    resolve(lastNameAliases),
		displayName: resolve(displayNameAliases),
		url:         resolve(urlAliases),
		nickname:    resolve(nicknameAliases),
		password:    resolve(passwordAliases),
		description: resolve(descriptionAliases),
	}

	if cols.login < 0 {
		return nil, fmt.Errorf("%w: login (tried %v)", ErrIdentityColumnMissing, loginAliases)
	}
	if cols.email < 0 {
		return nil, fmt.Errorf("%w: email (tried %v)", ErrIdentityColumnMissing, emailAliases)
	}

	return &CoreMapper{width: idx.Width(), cols: cols, role: role}, nil
}

// Map builds a record from one row. Rows without login or email are skipped.
func (m *CoreMapper) Map(row []string) (provision.UserRecord, SkipReason) {
	row = padRow(row, m.width)

	rec := provision.UserRecord{
		Login:       cell(row, m.cols.login),
		Email:       cell(row, m.cols.email),
		Role:        m.role,
		Password:    cell(row, m.cols.password),
		FirstName:   cell(row, m.cols.firstName),
		LastName:    cell(row, m.cols.lastName),
		DisplayName: cell(row, m.cols.displayName),
		Nickname:    cell(row, m.cols.nickname),
		URL:         cell(row, m.cols.url),
		Description: cell(row, m.cols.description),
	}

	if rec.Login == "" || rec.Email == "" {
		return provision.UserRecord{}, SkipMissingRequired
	}

	return rec, SkipNone
}

// MatchStrategy selects the identity column of metadata rows.
type MatchStrategy string

const (
	MatchByLogin MatchStrategy = "by-login"
	MatchByEmail MatchStrategy = "by-email"
	MatchByID    MatchStrategy = "by-id"
)

// ParseMatchStrategy accepts the strategy names plus the bare forms
// "login", "username", "email" and "id".
func ParseMatchStrategy(s string) (MatchStrategy, error) {
	switch s {
	case "", "by-login", "login", "username", "by-username":
		return MatchByLogin, nil
	case "by-email", "email":
		return MatchByEmail, nil
	case "by-id", "id":
		return MatchByID, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMatch, s)
}

// MetaMode selects how metadata keys are derived from columns.
type MetaMode string

const (
	// MetaModeAllowList keeps only allow-listed keys, resolved through their aliases
	MetaModeAllowList MetaMode = "allowlist"
	// MetaModeOpen keeps every non-identity column under its normalized header
	MetaModeOpen MetaMode = "open"
)

// ParseMetaMode validates a meta mode name.
func ParseMetaMode(s string) (MetaMode, error) {
	switch MetaMode(s) {
	case "", MetaModeAllowList:
		return MetaModeAllowList, nil
	case MetaModeOpen:
		return MetaModeOpen, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMetaMode, s)
}

// AllowList maps a canonical meta key to the CSV headers that may carry it.
type AllowList map[string][]string

// DefaultAllowList returns the recognized meta fields and their header aliases.
func DefaultAllowList() AllowList {
	return AllowList{
		"fecha_de_nacimiento":               {"fecha_de_nacimiento"},
		"provincia_ecuador":                 {"provincia_ecuador", "provincia"},
		"ciudad_ecuador":                    {"ciudad_ecuador", "ciudad"},
		"numero_de_contacto":                {"numero_de_contacto", "telefono", "celular", "numero_contacto"},
		"estado_civil":                      {"estado_civil"},
		"hijos_menores_de_18_anios":         {"hijos_menores_de_18_anios", "hijos_menores_de_18_anos"},
		"edad_de_hijos_menores_de_18_anios": {"edad_de_hijos_menores_de_18_anios", "edad_hijos_menores_de_18"},
		"nivel_estudios":                    {"nivel_estudios", "nivel_de_estudios"},
		"ciudad_capacitacion":               {"ciudad_capacitacion"},
		"becas_disp_hijos":                  {"becas_disp_hijos", "becas_disponibles_hijos"},
		"sector_ciudad":                     {"sector_ciudad", "sector"},
		"como_se_entero":                    {"como_se_entero", "como_se_entero_del_programa"},
		"user_cv_url":                       {"user_cv_url", "cv_url", "curriculum_url"},
	}
}

// Keys returns the allow-listed keys in sorted order.
func (a AllowList) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Contains reports whether key is allow-listed.
func (a AllowList) Contains(key string) bool {
	_, ok := a[key]
	return ok
}

// MetaMapperOptions configures NewMetaMapper.
type MetaMapperOptions struct {
	Match     MatchStrategy
	IDColumn  string
	Mode      MetaMode
	AllowList AllowList
}

type metaColumn struct {
	key string
	pos int
}

// MetaMapper turns CSV rows into metadata-update records.
type MetaMapper struct {
	match   MatchStrategy
	width   int
	idPos   int
	columns []metaColumn
}

// NewMetaMapper resolves the identity column and the meta columns once.
func NewMetaMapper(idx ColumnIndex, opts MetaMapperOptions) (*MetaMapper, error) {
	match := opts.Match
	if match == "" {
		match = MatchByLogin
	}

	idPos := -1
	if opts.IDColumn != "" {
		pos, ok := idx.Resolve(opts.IDColumn)
		if !ok {
			return nil, fmt.Errorf("%w: %q (normalized %q)", ErrUnknownIDColumn, opts.IDColumn, NormalizeHeader(opts.IDColumn))
		}
		idPos = pos
	} else {
		var aliases []string
		switch match {
		case MatchByLogin:
			aliases = metaLoginAliases
		case MatchByEmail:
			aliases = metaEmailAliases
		case MatchByID:
			aliases = metaIDAliases
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidMatch, match)
		}

		pos, ok := idx.Resolve(aliases...)
		if !ok {
			return nil, fmt.Errorf("%w: %s (tried %v, or pass idcol)", ErrIdentityColumnMissing, match, aliases)
		}
		idPos = pos
	}

	m := &MetaMapper{match: match, width: idx.Width(), idPos: idPos}

	switch opts.Mode {
	case MetaModeAllowList, "":
		allow := opts.AllowList
		if allow == nil {
			allow = DefaultAllowList()
		}
		for _, key := range allow.Keys() {
			pos, ok := idx.Resolve(allow[key]...)
			if !ok || pos == idPos {
				continue
			}
			m.columns = append(m.columns, metaColumn{key: key, pos: pos})
		}
	case MetaModeOpen:
		for pos := 0; pos < idx.Width(); pos++ {
			if pos == idPos {
				continue
			}
			name := idx.Name(pos)
			if name == "" {
				continue
			}
			m.columns = append(m.columns, metaColumn{key: name, pos: pos})
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMetaMode, opts.Mode)
	}

	return m, nil
}

// MetaKeys lists the meta keys this mapper can produce, in column order of resolution.
func (m *MetaMapper) MetaKeys() []string {
	keys := make([]string, len(m.columns))
	for i, c := range m.columns {
		keys[i] = c.key
	}
	return keys
}

// Map builds a record from one row. Empty values are dropped; rows without an
// identifier or without any meta value are skipped.
func (m *MetaMapper) Map(row []string) (provision.MetaRecord, SkipReason) {
	row = padRow(row, m.width)

	identifier := cell(row, m.idPos)
	if identifier == "" {
		return provision.MetaRecord{}, SkipMissingIdentity
	}

	var rec provision.MetaRecord
	switch m.match {
	case MatchByID:
		id, err := strconv.ParseInt(identifier, 10, 64)
		if err != nil || id <= 0 {
			return provision.MetaRecord{}, SkipInvalidID
		}
		rec.UserID = id
	case MatchByEmail:
		rec.Email = identifier
	default:
		rec.Login = identifier
		// Logins that are really addresses fall back to an email lookup
		if isEmail(identifier) {
			rec.Email = identifier
		}
	}

	meta := make(map[string]any, len(m.columns))
	for _, c := range m.columns {
		if v := cell(row, c.pos); v != "" {
			meta[c.key] = v
		}
	}
	if len(meta) == 0 {
		return provision.MetaRecord{}, SkipEmptyMeta
	}
	rec.Meta = meta

	return rec, SkipNone
}

func isEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
