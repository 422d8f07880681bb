package pipeline

import "strings"

// Seniority is the closed seniority vocabulary.
type Seniority string

// Seniority values.
const (
	SeniorityIntern    Seniority = "intern"
	SeniorityJunior    Seniority = "junior"
	SeniorityMid       Seniority = "mid"
	SenioritySenior    Seniority = "senior"
	SeniorityStaff     Seniority = "staff"
	SeniorityPrincipal Seniority = "principal"
	SeniorityManager   Seniority = "manager"
	SeniorityDirector  Seniority = "director"
	SeniorityVP        Seniority = "vp"
	SeniorityCXO       Seniority = "cxo"
	SeniorityUnknown   Seniority = "unknown"
)

// JobFunction is the closed job-function vocabulary.
type JobFunction string

// JobFunction values.
const (
	FunctionSales                JobFunction = "sales"
	FunctionSalesOps             JobFunction = "sales_ops"
	FunctionRevOps               JobFunction = "revops"
	FunctionMarketing            JobFunction = "marketing"
	FunctionProductMarketing     JobFunction = "product_marketing"
	FunctionCustomerSuccess      JobFunction = "customer_success"
	FunctionSolutionsEngineering JobFunction = "solutions_engineering"
	FunctionGTMEngineering       JobFunction = "gtm_engineering"
	FunctionFinance              JobFunction = "finance"
	FunctionHR                   JobFunction = "hr"
	FunctionEngineering          JobFunction = "engineering"
	FunctionData                 JobFunction = "data"
	FunctionSecurity             JobFunction = "security"
	FunctionIT                   JobFunction = "it"
	FunctionLegal                JobFunction = "legal"
	FunctionOperations           JobFunction = "operations"
	FunctionOther                JobFunction = "other"
)

// RemoteType is the closed remote-arrangement vocabulary.
type RemoteType string

// RemoteType values.
const (
	RemoteOnsite  RemoteType = "onsite"
	RemoteHybrid  RemoteType = "hybrid"
	RemoteRemote  RemoteType = "remote"
	RemoteUnknown RemoteType = "unknown"
)

// EmploymentType is the closed employment-type vocabulary.
type EmploymentType string

// EmploymentType values.
const (
	EmploymentFullTime   EmploymentType = "full_time"
	EmploymentPartTime   EmploymentType = "part_time"
	EmploymentContract   EmploymentType = "contract"
	EmploymentInternship EmploymentType = "internship"
	EmploymentTemporary  EmploymentType = "temporary"
	EmploymentUnknown    EmploymentType = "unknown"
)

var seniorities = map[string]Seniority{
	"intern": SeniorityIntern, "junior": SeniorityJunior, "mid": SeniorityMid,
	"senior": SenioritySenior, "staff": SeniorityStaff, "principal": SeniorityPrincipal,
	"manager": SeniorityManager, "director": SeniorityDirector, "vp": SeniorityVP,
	"cxo": SeniorityCXO, "unknown": SeniorityUnknown,
}

var functions = map[string]JobFunction{
	"sales": FunctionSales, "sales_ops": FunctionSalesOps, "revops": FunctionRevOps,
	"marketing": FunctionMarketing, "product_marketing": FunctionProductMarketing,
	"customer_success": FunctionCustomerSuccess, "solutions_engineering": FunctionSolutionsEngineering,
	"gtm_engineering": FunctionGTMEngineering, "finance": FunctionFinance, "hr": FunctionHR,
	"engineering": FunctionEngineering, "data": FunctionData, "security": FunctionSecurity,
	"it": FunctionIT, "legal": FunctionLegal, "operations": FunctionOperations, "other": FunctionOther,
}

// remoteAliases maps the free-text spellings the extraction backend produces
// onto the closed vocabulary before the generic squash is attempted.
var remoteAliases = map[string]RemoteType{
	"on-site": RemoteOnsite, "on site": RemoteOnsite, "in-office": RemoteOnsite,
	"office": RemoteOnsite, "partially remote": RemoteHybrid, "partial remote": RemoteHybrid,
	"non-traditional": RemoteHybrid,
}

var employmentAliases = map[string]EmploymentType{
	"full-time": EmploymentFullTime, "full time": EmploymentFullTime,
	"part-time": EmploymentPartTime, "part time": EmploymentPartTime,
}

// ParseSeniority maps free text onto the seniority vocabulary, defaulting to
// unknown.
func ParseSeniority(raw string) Seniority {
	if s, ok := seniorities[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return SeniorityUnknown
}

// ParseJobFunction maps free text onto the function vocabulary, defaulting to
// other.
func ParseJobFunction(raw string) JobFunction {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "_")
	if f, ok := functions[key]; ok {
		return f
	}
	return FunctionOther
}

// ParseRemoteType maps free text like "on-site" or "On Site" onto the remote
// vocabulary, defaulting to unknown.
func ParseRemoteType(raw string) RemoteType {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	if r, ok := remoteAliases[lowered]; ok {
		return r
	}
	squashed := strings.NewReplacer("-", "", " ", "").Replace(lowered)
	switch RemoteType(squashed) {
	case RemoteOnsite, RemoteHybrid, RemoteRemote, RemoteUnknown:
		return RemoteType(squashed)
	}
	return RemoteUnknown
}

// ParseEmploymentType maps free text like "Full-time" onto the employment
// vocabulary, defaulting to unknown.
func ParseEmploymentType(raw string) EmploymentType {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	if e, ok := employmentAliases[lowered]; ok {
		return e
	}
	normalized := strings.NewReplacer("-", "_", " ", "_").Replace(lowered)
	switch EmploymentType(normalized) {
	case EmploymentFullTime, EmploymentPartTime, EmploymentContract,
		EmploymentInternship, EmploymentTemporary, EmploymentUnknown:
		return EmploymentType(normalized)
	}
	return EmploymentUnknown
}
