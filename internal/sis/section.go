package sis

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"sis-grade-sync/pkg/errors"
)

const (
	searchCourseSectionPath = "/webservice/PublicViewREST/searchCourseSection"
	courseSectionPath       = "/webservice/InternalViewRESTV2/courseSection/objectId/"
)

// FindCourseSection searches for sections of courseNumber with the given section code.
// The result may contain sections of other courses whose code merely starts the same;
// use SelectSection to pick the exact match. An exception answer without any
// profile means the section does not exist and yields ErrSectionNotFound.
func (c *Client) FindCourseSection(ctx context.Context, token, courseNumber, sectionNumber string) ([]CourseSectionProfile, error) {
	var req searchCourseSectionRequest
	req.Detail.Pagination.PageNumber = "1"
	req.Detail.Pagination.PageSize = strconv.Itoa(c.pageSize)
	req.Detail.Criteria.CourseCode = courseNumber
	if sectionNumber != "" {
		req.Detail.Criteria.Advanced = &struct {
			SectionCode string `json:"sectionCode"`
		}{SectionCode: sectionNumber}
	}

	body, err := marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.execute(ctx, request{
		method: http.MethodPost,
		path:   searchCourseSectionPath,
		query: []param{
			{"informationLevel", c.searchLevel},
			{"locale", "en_US"},
			{"_type", "json"},
		},
		body:    body,
		token:   token,
		capture: "courseCode-" + courseNumber + "-" + sectionNumber,
	})
	if err != nil {
		return nil, err
	}

	var out searchCourseSectionResponse
	if err := c.decode("searchCourseSection", resp, &out); err != nil {
		return nil, err
	}
	profiles := out.profiles()
	if out.Exception != nil && len(profiles) == 0 {
		return nil, fmt.Errorf("%s - %s: %w: %w", courseNumber, sectionNumber, errors.ErrSectionNotFound, out.Exception)
	}
	return profiles, nil
}

// SelectSection returns the object id of the first profile whose associated
// course number equals courseNumber exactly.
func SelectSection(profiles []CourseSectionProfile, courseNumber string) (string, error) {
	for _, p := range profiles {
		if p.AssociatedCourse.CourseNumber != courseNumber {
			continue
		}
		if p.ObjectID == "" {
			return "", errors.ResponseShapeError{Endpoint: "searchCourseSection", Field: "objectId"}
		}
		return p.ObjectID.String(), nil
	}
	return "", fmt.Errorf("%s: %w", courseNumber, errors.ErrSectionNotFound)
}

// ResolveSection combines FindCourseSection and SelectSection.
func (c *Client) ResolveSection(ctx context.Context, token, courseNumber, sectionNumber string) (string, error) {
	profiles, err := c.FindCourseSection(ctx, token, courseNumber, sectionNumber)
	if err != nil {
		return "", err
	}
	id, err := SelectSection(profiles, courseNumber)
	if err != nil {
		return "", fmt.Errorf("section %s: %w", sectionNumber, err)
	}
	return id, nil
}

// GetCourseSection fetches the full section record, used for its enrollment due-date rule.
func (c *Client) GetCourseSection(ctx context.Context, token, sectionID string) (*CourseSection, error) {
	resp, err := c.execute(ctx, request{
		method: http.MethodGet,
		path:   courseSectionPath + sectionID,
		query: []param{
			{"_type", "json"},
			{"informationLevel", "Full"},
			{"locale", "en_US"},
		},
		token:   token,
		capture: "courseSection-" + sectionID,
	})
	if err != nil {
		return nil, err
	}

	var out getCourseSectionResponse
	if err := c.decode("getCourseSection", resp, &out); err != nil {
		return nil, err
	}
	if out.Exception != nil {
		return nil, out.Exception
	}
	if out.Result == nil || out.Result.CourseSection == nil {
		return nil, errors.ResponseShapeError{Endpoint: "getCourseSection", Field: "getCourseSectionResult.courseSection"}
	}
	return out.Result.CourseSection, nil
}
