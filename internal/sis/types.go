package sis

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// FlexString accepts a JSON string or number. The SIS is not consistent about
// quoting object ids and error codes.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", trimmed)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// OneOrMany normalizes the SIS habit of returning a bare object for a single
// result and an array otherwise. Empty strings and null become an empty list.
type OneOrMany[T any] []T

func (o *OneOrMany[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || trimmed[0] == '"' {
		*o = nil
		return nil
	}
	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*o = items
		return nil
	}
	var item T
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return err
	}
	*o = OneOrMany[T]{item}
	return nil
}

// isObject reports whether data holds a JSON object. The SIS sends "" for
// containers that have nothing in them.
func isObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// SRSException is the error envelope the SIS returns in place of a result.
type SRSException struct {
	ErrorCode FlexString `json:"errorCode"`
	Message   string     `json:"message"`
}

func (e *SRSException) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("SIS error %s: %s", e.ErrorCode, e.Message)
	}
	return "SIS error: " + e.Message
}

// CleanMessage strips the square brackets the SIS wraps messages in.
func (e *SRSException) CleanMessage() string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(e.Message), "["), "]")
}

// Course section search.

type CourseSectionProfile struct {
	ObjectID         FlexString `json:"objectId"`
	Code             string     `json:"code,omitempty"`
	AssociatedCourse struct {
		CourseNumber string `json:"courseNumber"`
	} `json:"associatedCourse"`
}

type sectionProfileList struct {
	CourseSectionProfile OneOrMany[CourseSectionProfile] `json:"courseSectionProfile"`
}

func (l *sectionProfileList) UnmarshalJSON(data []byte) error {
	if !isObject(data) {
		l.CourseSectionProfile = nil
		return nil
	}
	type plain sectionProfileList
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*l = sectionProfileList(v)
	return nil
}

type courseSectionProfiles struct {
	CourseSectionProfiles sectionProfileList `json:"courseSectionProfiles"`
}

type searchCourseSectionResponse struct {
	Result *courseSectionProfiles `json:"SearchCourseSectionProfileResult"`
	courseSectionProfiles
	Exception *SRSException `json:"SRSException"`
}

func (r *searchCourseSectionResponse) profiles() []CourseSectionProfile {
	if r.Result != nil {
		return r.Result.CourseSectionProfiles.CourseSectionProfile
	}
	return r.CourseSectionProfiles.CourseSectionProfile
}

type searchCourseSectionRequest struct {
	Detail struct {
		Pagination struct {
			PageNumber string `json:"pageNumber"`
			PageSize   string `json:"pageSize"`
		} `json:"paginationConstruct"`
		Criteria struct {
			CourseCode string `json:"courseCode"`
			Advanced   *struct {
				SectionCode string `json:"sectionCode"`
			} `json:"advancedCriteria,omitempty"`
		} `json:"courseSectionSearchCriteria"`
	} `json:"searchCourseSectionProfileRequestDetail"`
}

// Course section detail.

type CourseSection struct {
	ObjectID           FlexString `json:"objectId"`
	SectionDueDateRule *struct {
		DaysAfterEnroll json.Number `json:"daysAfterEnroll"`
	} `json:"sectionDueDateRule"`
}

// DaysAfterEnroll returns the enrollment length in days, if the section defines one.
func (s *CourseSection) DaysAfterEnroll() (int, bool) {
	if s.SectionDueDateRule == nil || s.SectionDueDateRule.DaysAfterEnroll == "" {
		return 0, false
	}
	n, err := s.SectionDueDateRule.DaysAfterEnroll.Int64()
	if err != nil {
		return 0, false
	}
	return int(n), true
}

type getCourseSectionResponse struct {
	Result *struct {
		CourseSection *CourseSection `json:"courseSection"`
	} `json:"getCourseSectionResult"`
	Exception *SRSException `json:"SRSException"`
}

// Course availability.

type CourseProfile struct {
	CourseNumber     string `json:"courseNumber"`
	Applicability    string `json:"applicability"`
	ObjectStatusCode string `json:"objectStatusCode,omitempty"`
}

type searchCourseRequest struct {
	Detail struct {
		Criteria struct {
			CourseCode   string `json:"courseCode"`
			CourseStatus string `json:"courseStatus,omitempty"`
		} `json:"courseSectionSearchCriteria"`
	} `json:"searchCourseProfileRequestDetail"`
}

type courseProfiles struct {
	CourseProfile OneOrMany[CourseProfile] `json:"courseProfile"`
}

// UnmarshalJSON accepts the empty string sent when no course matches.
func (p *courseProfiles) UnmarshalJSON(data []byte) error {
	if !isObject(data) {
		p.CourseProfile = nil
		return nil
	}
	type plain courseProfiles
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = courseProfiles(v)
	return nil
}

type searchCourseResponse struct {
	Result *struct {
		CourseProfiles courseProfiles `json:"courseProfiles"`
	} `json:"searchCourseResult"`
	Exception *SRSException `json:"SRSException"`
}

type updateCourseRequest struct {
	Detail struct {
		Course struct {
			AssociationMode  string `json:"associationMode"`
			CourseNumber     string `json:"courseNumber"`
			ObjectStatusCode string `json:"objectStatusCode,omitempty"`
			Applicability    string `json:"applicability,omitempty"`
		} `json:"course"`
	} `json:"updateCourseRequestDetail"`
}

type updateCourseResponse struct {
	Result *struct {
		ResponseCode string `json:"responseCode"`
	} `json:"updateCourseResult"`
	Exception *SRSException `json:"SRSException"`
}

// Class list and students.

type StudentListItem struct {
	StudentID             FlexString `json:"studentId"`
	StudentNumber         string     `json:"studentNumber"`
	FirstName             string     `json:"studentFirstName"`
	LastName              string     `json:"studentLastName"`
	Email                 string     `json:"studentPreferredEmail"`
	SchoolPersonnelNumber *string    `json:"studentScoolPersonnelNumber"`
	EnrollmentDate        string     `json:"enrollmentDate"`
	EnrollmentStatus      string     `json:"enrollmentStatus"`
}

// ClassList is the normalized getClassList result.
type ClassList struct {
	SectionID FlexString
	Students  []StudentListItem
}

type studentListItems struct {
	StudentListItem OneOrMany[StudentListItem] `json:"studentListItem"`
}

// UnmarshalJSON tolerates the empty string the SIS sends for sections without students.
func (s *studentListItems) UnmarshalJSON(data []byte) error {
	if !isObject(data) {
		s.StudentListItem = nil
		return nil
	}
	type plain studentListItems
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = studentListItems(p)
	return nil
}

type getClassListRequest struct {
	Detail struct {
		CourseNumber  string `json:"courseNumber"`
		SectionNumber string `json:"sectionNumber"`
	} `json:"getClassListRequestDetail"`
}

type getClassListResponse struct {
	Result *struct {
		CourseSectionProfile *struct {
			ObjectID FlexString `json:"objectId"`
		} `json:"courseSectionProfile"`
		StudentListItems studentListItems `json:"studentListItems"`
	} `json:"getClassListResult"`
	Exception *SRSException `json:"SRSException"`
}

type StudentProfile struct {
	ObjectID     FlexString `json:"objectId"`
	LoginID      string     `json:"loginId"`
	PersonNumber string     `json:"personNumber,omitempty"`
}

type getStudentResponse struct {
	Result *struct {
		Student *StudentProfile `json:"student"`
	} `json:"getStudentResult"`
	Exception *SRSException `json:"SRSException"`
}

// Grade posting.

type postGradeRequest struct {
	Detail struct {
		StudentGrade struct {
			CompletionDate       string `json:"completionDate"`
			IsInstructorApproved string `json:"isInstructorApproved"`
			IsProgramApproved    string `json:"isProgramApproved"`
			IsRegistrarApproved  string `json:"isRegistrarApproved"`
			GradingSheet         struct {
				CourseSectionProfile struct {
					ObjectID string `json:"objectId"`
				} `json:"courseSectionProfile"`
			} `json:"gradingSheet"`
			Student struct {
				PersonNumber string `json:"personNumber"`
			} `json:"student"`
			StudentGradeItems struct {
				StudentGradeItem struct {
					Grade string `json:"grade"`
				} `json:"studentGradeItem"`
			} `json:"studentGradeItems"`
		} `json:"studentGrade"`
	} `json:"createOrUpdateStudentFinalGradeRequestDetail"`
}

type postGradeResponse struct {
	Result *struct {
		Status string `json:"status"`
	} `json:"createOrUpdateStudentFinalGradeResult"`
	Exception *SRSException `json:"SRSException"`
}

// PostOutcome discriminates the three ways a grade post can end.
type PostOutcome int

const (
	PostSuccess PostOutcome = iota + 1
	PostAlreadyPosted
	PostOtherError
)

func (o PostOutcome) String() string {
	switch o {
	case PostSuccess:
		return "Success"
	case PostAlreadyPosted:
		return "AlreadyPosted"
	case PostOtherError:
		return "OtherError"
	}
	return "Unknown"
}

type PostResult struct {
	Outcome PostOutcome
	Message string
}

// Student drop (the only XML endpoint).

type dropStudentRequest struct {
	XMLName        xml.Name `xml:"dropStudentFromSectionRequestDetail"`
	AttributeValue string   `xml:"attributeValue"`
	CourseNumber   string   `xml:"courseNumber"`
	DropReason     string   `xml:"dropReason"`
	RefundMode     string   `xml:"refundMode"`
	DropDate       string   `xml:"dropDate"`
	MatchOn        string   `xml:"matchOn"`
	SectionNumber  string   `xml:"sectionNumber"`
}

type dropStudentResponse struct {
	Exception *SRSException `json:"SRSException"`
}
